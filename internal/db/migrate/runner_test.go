package migrate

import (
	"errors"
	"strings"
	"testing"
)

func TestRun_EmptyDSN(t *testing.T) {
	err := Run("", "up", 0)
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL is not set") {
		t.Fatalf("Run err = %v", err)
	}
	if _, _, err := Version(""); err == nil {
		t.Error("Version with empty DSN should fail")
	}
}

func TestRun_InvalidArguments(t *testing.T) {
	for _, dir := range []string{"", "sideways", "UP", "Down"} {
		err := Run("postgres://localhost/test", dir, 0)
		if err == nil || !strings.Contains(err.Error(), "direction must be up or down") {
			t.Errorf("Run(direction=%q) err = %v", dir, err)
		}
	}
	if err := Run("postgres://localhost/test", "down", -1); err == nil || !strings.Contains(err.Error(), "steps") {
		t.Errorf("Run(steps=-1) err = %v", err)
	}
}

func TestRun_InvalidDSN(t *testing.T) {
	for _, dsn := range []string{"invalid-dsn", "://localhost/test", "postgres://localhost with spaces/test"} {
		err := Run(dsn, "up", 0)
		if err == nil {
			t.Errorf("Run(%q) should fail", dsn)
		}
		if errors.Is(err, ErrNoChange) {
			t.Errorf("Run(%q) returned ErrNoChange", dsn)
		}
	}
}
