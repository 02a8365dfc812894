package utils

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestSendErrorTagging(t *testing.T) {
	base := errors.New("boom")

	perm := PermanentError(base)
	if !IsPermanentError(perm) {
		t.Error("PermanentError not recognized as permanent")
	}
	if !errors.Is(perm, base) {
		t.Error("PermanentError must unwrap to the cause")
	}

	trans := TransientError(base)
	if IsPermanentError(trans) {
		t.Error("TransientError classified as permanent")
	}

	// Wrapping preserves the classification.
	wrapped := fmt.Errorf("send: %w", perm)
	if !IsPermanentError(wrapped) {
		t.Error("wrapped permanent error lost its classification")
	}
}

func TestUntaggedErrorDefaultsTransient(t *testing.T) {
	if IsPermanentError(errors.New("connection reset")) {
		t.Error("untagged error must default to transient")
	}
	if IsPermanentError(nil) {
		t.Error("nil error classified as permanent")
	}
}

func TestIsPermanentSMTPError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("550 5.1.1 no such user"), true},
		{errors.New("551 user not local"), true},
		{errors.New("553 mailbox name not allowed"), true},
		{errors.New("421 service not available"), false},
		{errors.New("dial tcp: connection refused"), false},
	}
	for _, tc := range cases {
		if got := isPermanentSMTPError(tc.err); got != tc.want {
			t.Errorf("isPermanentSMTPError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestSMTPMailerRejectsBadRecipient(t *testing.T) {
	mailer := NewSMTPMailer("smtp.example.com", 587, "user", "pass", "noreply@example.com", "Careerlyst")

	_, err := mailer.Send(context.Background(), OutboundEmail{To: "not-an-address", Subject: "hi", HTMLBody: "<p>hi</p>"})
	if err == nil {
		t.Fatal("expected error for malformed recipient")
	}
	if !IsPermanentError(err) {
		t.Errorf("malformed recipient must be permanent, got %v", err)
	}
}
