package utils

import (
	"context"
	"errors"
	"testing"

	"careerlyst/models"
)

type fakePreferenceSource struct {
	prefs map[string]*models.EmailPreference
	err   error
	reads int
}

func (f *fakePreferenceSource) GetPreference(_ context.Context, _ *uint, emailAddress string) (*models.EmailPreference, error) {
	f.reads++
	if f.err != nil {
		return nil, f.err
	}
	return f.prefs[emailAddress], nil
}

func TestIsSuppressed(t *testing.T) {
	prefs := &fakePreferenceSource{prefs: map[string]*models.EmailPreference{
		"optout@example.com": {EmailAddress: "optout@example.com", MarketingEmailsEnabled: false},
		"optin@example.com":  {EmailAddress: "optin@example.com", MarketingEmailsEnabled: true},
	}}
	gate := NewSuppressionGate(prefs, nil, 0, testLogger())

	cases := []struct {
		email string
		want  bool
	}{
		{"optout@example.com", true},
		{"optin@example.com", false},
		{"unknown@example.com", false},
	}
	for _, tc := range cases {
		got, err := gate.IsSuppressed(context.Background(), nil, tc.email)
		if err != nil {
			t.Fatalf("IsSuppressed(%s): %v", tc.email, err)
		}
		if got != tc.want {
			t.Errorf("IsSuppressed(%s) = %v, want %v", tc.email, got, tc.want)
		}
	}
}

func TestIsSuppressedStoreError(t *testing.T) {
	prefs := &fakePreferenceSource{err: errors.New("db down")}
	gate := NewSuppressionGate(prefs, nil, 0, testLogger())

	if _, err := gate.IsSuppressed(context.Background(), nil, "member@example.com"); err == nil {
		t.Fatal("store error must surface, not be swallowed")
	}
}

func TestCacheKeyNormalizesAddress(t *testing.T) {
	if got, want := cacheKey(" Member@Example.COM "), "suppression:member@example.com"; got != want {
		t.Errorf("cacheKey = %q, want %q", got, want)
	}
}
