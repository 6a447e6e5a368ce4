package migrate

import (
	"errors"
	"strings"
	"testing"
)

func TestRun_EmptyDSN(t *testing.T) {
	err := Run("", Up)
	if err == nil {
		t.Fatal("Run with empty DSN should return error")
	}
	if !strings.Contains(err.Error(), "DATABASE_URL is not set") {
		t.Errorf("error = %q, should mention DATABASE_URL", err)
	}
}

func TestRun_InvalidDirection(t *testing.T) {
	for _, direction := range []string{"", "invalid", "both", "UP", "Down"} {
		t.Run(direction, func(t *testing.T) {
			err := Run("postgres://localhost/test", direction)
			if err == nil {
				t.Fatalf("Run with direction %q should return error", direction)
			}
			if !strings.Contains(err.Error(), "direction") {
				t.Errorf("error = %q, should mention direction", err)
			}
		})
	}
}

func TestRun_InvalidDSN(t *testing.T) {
	testCases := []struct {
		name string
		dsn  string
	}{
		{"invalid format", "invalid-dsn"},
		{"missing driver", "://localhost/test"},
		{"spaces", "postgres://localhost with spaces/test"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := Run(tc.dsn, Up)
			if err == nil {
				t.Fatalf("Run with invalid DSN %q should return error", tc.dsn)
			}
			if errors.Is(err, ErrNoChange) {
				t.Error("Run must never return ErrNoChange")
			}
		})
	}
}

func TestVersion_EmptyDSN(t *testing.T) {
	if _, _, _, err := Version(""); err == nil {
		t.Fatal("Version with empty DSN should return error")
	}
}
