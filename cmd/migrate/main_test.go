package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AriceNn/MonEra-sub000/internal/config"
	"github.com/AriceNn/MonEra-sub000/internal/remote"
)

func TestMigrate_Drivers(t *testing.T) {
	tests := []struct {
		driver string
		want   error
	}{
		{"none", errNoSchema},
		{"", errNoSchema},
		{"mongo", errNoSchema},
		{"supabase", remote.ErrUnknownDriver},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			cfg := config.Config{Remote: config.RemoteConfig{Driver: tt.driver}}
			err := migrate(context.Background(), cfg)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMigrate_PostgresNeedsURL(t *testing.T) {
	cfg := config.Config{Remote: config.RemoteConfig{Driver: "postgres"}}
	err := migrate(context.Background(), cfg)
	require.ErrorContains(t, err, "postgres.url is required")
}
