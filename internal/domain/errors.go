package domain

import "errors"

var (
	ErrMissingField          = errors.New("missing required field")
	ErrInvalidAmount         = errors.New("amount must be non-negative")
	ErrInvalidType           = errors.New("invalid transaction type")
	ErrInvalidFrequency      = errors.New("invalid frequency")
	ErrInvalidThreshold      = errors.New("alert threshold must be between 0 and 100")
	ErrInvalidDateRange      = errors.New("end date is before start date")
	ErrDuplicateActiveBudget = errors.New("an active budget already exists for this category")
)
