package domain

import "time"

// SettingsID is the fixed key of the singleton settings record.
const SettingsID = "app"

// Theme is the UI colour scheme preference.
type Theme string

const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"
)

// Settings holds user preferences. Exactly one record exists per store.
type Settings struct {
	Currency      string    `json:"currency"`
	Language      string    `json:"language"`
	Theme         Theme     `json:"theme"`
	Notifications bool      `json:"notifications"`
	AutoSync      bool      `json:"autoSync"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// DefaultSettings are returned when nothing has been saved yet.
func DefaultSettings() Settings {
	return Settings{
		Currency:      "USD",
		Language:      "en",
		Theme:         ThemeSystem,
		Notifications: true,
	}
}

// SettingsPatch is a partial update of the settings record.
type SettingsPatch struct {
	Currency      *string `json:"currency,omitempty"`
	Language      *string `json:"language,omitempty"`
	Theme         *Theme  `json:"theme,omitempty"`
	Notifications *bool   `json:"notifications,omitempty"`
	AutoSync      *bool   `json:"autoSync,omitempty"`
}

func (p SettingsPatch) Apply(s Settings, now time.Time) Settings {
	if p.Currency != nil {
		s.Currency = *p.Currency
	}
	if p.Language != nil {
		s.Language = *p.Language
	}
	if p.Theme != nil {
		s.Theme = *p.Theme
	}
	if p.Notifications != nil {
		s.Notifications = *p.Notifications
	}
	if p.AutoSync != nil {
		s.AutoSync = *p.AutoSync
	}
	s.UpdatedAt = now.UTC()
	return s
}
