package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"testing"
	"time"
)

func signPayload(t *testing.T, secret, msgID, timestamp string, payload []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, decodeWebhookSecret(secret))
	fmt.Fprintf(mac, "%s.%s.", msgID, timestamp)
	mac.Write(payload)
	return "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature(t *testing.T) {
	secret := "whsec_" + base64.StdEncoding.EncodeToString([]byte("test-signing-key"))
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	timestamp := strconv.FormatInt(now.Unix(), 10)
	payload := []byte(`{"event_type":"delivered","provider_message_id":"msg_1"}`)

	tests := []struct {
		name      string
		msgID     string
		timestamp string
		signature string
		payload   []byte
		wantErr   error
	}{
		{
			name:      "valid signature",
			msgID:     "msg_abc",
			timestamp: timestamp,
			signature: signPayload(t, secret, "msg_abc", timestamp, payload),
			payload:   payload,
		},
		{
			name:      "multiple candidates with one valid",
			msgID:     "msg_abc",
			timestamp: timestamp,
			signature: "v1,Zm9vYmFy " + signPayload(t, secret, "msg_abc", timestamp, payload),
			payload:   payload,
		},
		{
			name:      "tampered payload",
			msgID:     "msg_abc",
			timestamp: timestamp,
			signature: signPayload(t, secret, "msg_abc", timestamp, payload),
			payload:   []byte(`{"event_type":"bounced","provider_message_id":"msg_1"}`),
			wantErr:   ErrSignatureMismatch,
		},
		{
			name:      "signature for different message id",
			msgID:     "msg_other",
			timestamp: timestamp,
			signature: signPayload(t, secret, "msg_abc", timestamp, payload),
			payload:   payload,
			wantErr:   ErrSignatureMismatch,
		},
		{
			name:      "missing headers",
			msgID:     "",
			timestamp: timestamp,
			signature: signPayload(t, secret, "msg_abc", timestamp, payload),
			payload:   payload,
			wantErr:   ErrMissingSignatureHeaders,
		},
		{
			name:      "garbage timestamp",
			msgID:     "msg_abc",
			timestamp: "not-a-number",
			signature: signPayload(t, secret, "msg_abc", "not-a-number", payload),
			payload:   payload,
			wantErr:   ErrInvalidTimestamp,
		},
		{
			name:      "stale timestamp",
			msgID:     "msg_abc",
			timestamp: strconv.FormatInt(now.Add(-time.Hour).Unix(), 10),
			signature: signPayload(t, secret, "msg_abc", strconv.FormatInt(now.Add(-time.Hour).Unix(), 10), payload),
			payload:   payload,
			wantErr:   ErrStaleTimestamp,
		},
		{
			name:      "unknown scheme version",
			msgID:     "msg_abc",
			timestamp: timestamp,
			signature: "v2," + signPayload(t, secret, "msg_abc", timestamp, payload)[3:],
			payload:   payload,
			wantErr:   ErrSignatureMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyWebhookSignature(secret, tt.msgID, tt.timestamp, tt.signature, tt.payload, now)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected valid signature, got %v", err)
				}
				return
			}
			if err != tt.wantErr {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestVerifyWebhookSignatureRawSecret(t *testing.T) {
	// Secrets that are not base64 are used verbatim.
	secret := "plain!shared!secret"
	now := time.Now()
	timestamp := strconv.FormatInt(now.Unix(), 10)
	payload := []byte(`{}`)

	sig := signPayload(t, secret, "msg_1", timestamp, payload)
	if err := VerifyWebhookSignature(secret, "msg_1", timestamp, sig, payload, now); err != nil {
		t.Fatalf("expected valid signature with raw secret, got %v", err)
	}
}
