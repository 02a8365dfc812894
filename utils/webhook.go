package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Webhook verification failures. All of them mean the request is rejected
// outright with no processing.
var (
	ErrMissingSignatureHeaders = errors.New("missing webhook signature headers")
	ErrInvalidTimestamp        = errors.New("invalid webhook timestamp")
	ErrStaleTimestamp          = errors.New("webhook timestamp outside tolerance")
	ErrSignatureMismatch       = errors.New("webhook signature mismatch")
)

// webhookTimestampTolerance bounds replay of captured payloads.
const webhookTimestampTolerance = 5 * time.Minute

// VerifyWebhookSignature checks the svix-style HMAC signature over the exact
// raw request bytes. The signed content is "{id}.{timestamp}.{body}", the
// secret is the base64 tail of a "whsec_..." string, and the signature
// header carries one or more space-separated "v1,<base64>" candidates (key
// rotation produces several). Comparison is constant time.
func VerifyWebhookSignature(secret, msgID, timestamp, signatureHeader string, payload []byte, now time.Time) error {
	if msgID == "" || timestamp == "" || signatureHeader == "" {
		return ErrMissingSignatureHeaders
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}
	drift := now.Sub(time.Unix(ts, 0))
	if drift > webhookTimestampTolerance || drift < -webhookTimestampTolerance {
		return ErrStaleTimestamp
	}

	mac := hmac.New(sha256.New, decodeWebhookSecret(secret))
	fmt.Fprintf(mac, "%s.%s.", msgID, timestamp)
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, candidate := range strings.Fields(signatureHeader) {
		sig := candidate
		if idx := strings.Index(candidate, ","); idx >= 0 {
			if candidate[:idx] != "v1" {
				continue
			}
			sig = candidate[idx+1:]
		}
		decoded, err := base64.StdEncoding.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return nil
		}
	}
	return ErrSignatureMismatch
}

func decodeWebhookSecret(secret string) []byte {
	trimmed := strings.TrimPrefix(secret, "whsec_")
	key, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		// Raw (non-base64) secrets are used verbatim.
		return []byte(trimmed)
	}
	return key
}
