package domain

import (
	"testing"
	"time"
)

func TestNormalizeKey(t *testing.T) {
	testCases := []struct {
		in       string
		wantKey  string
		wantKind KeyKind
	}{
		{"  Alice@Example.COM ", "alice@example.com", KeyKindEmail},
		{"+1 (555) 123-4567", "+15551234567", KeyKindPhone},
		{"+15551234567", "+15551234567", KeyKindPhone},
		{"0044 20 7946 0958", "+442079460958", KeyKindPhone},
		{"15551234567", "+15551234567", KeyKindPhone},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			key, kind, err := NormalizeKey(tc.in)
			if err != nil {
				t.Fatalf("NormalizeKey(%q): %v", tc.in, err)
			}
			if key != tc.wantKey || kind != tc.wantKind {
				t.Errorf("NormalizeKey(%q) = %q/%s, want %q/%s", tc.in, key, kind, tc.wantKey, tc.wantKind)
			}
		})
	}
}

func TestNormalizeKey_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "alice@", "@example.com", "alice@localhost", "12345", "+1555abc4567", "1+5551234567", "+1234567890123456"} {
		if _, _, err := NormalizeKey(in); err != ErrInvalidIdentityKey {
			t.Errorf("NormalizeKey(%q): want ErrInvalidIdentityKey, got %v", in, err)
		}
	}
}

func TestPendingIdentity_ExpiresAt(t *testing.T) {
	created := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p := &PendingIdentity{Challenge: Challenge{CreatedAt: created}}
	if got := p.ExpiresAt(10 * time.Minute); !got.Equal(created.Add(10 * time.Minute)) {
		t.Errorf("ExpiresAt = %v", got)
	}
}
