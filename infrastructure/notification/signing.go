package notification

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Signature headers set on signed deliveries.
const (
	HeaderSignature = "X-Merlin-Signature"
	HeaderTimestamp = "X-Merlin-Timestamp"
)

// Sign returns "sha256=<hex>" over "<unix-timestamp>.<payload>".
func Sign(payload []byte, secret string, timestamp time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp.Unix(), 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature and rejects timestamps outside tolerance of now.
func Verify(payload []byte, secret, signature string, timestamp time.Time, tolerance time.Duration, now time.Time) bool {
	if d := now.Sub(timestamp); d > tolerance || d < -tolerance {
		return false
	}
	return hmac.Equal([]byte(Sign(payload, secret, timestamp)), []byte(signature))
}

func signedHeaders(payload []byte, secret string, timestamp time.Time) map[string]string {
	return map[string]string{
		HeaderSignature: Sign(payload, secret, timestamp),
		HeaderTimestamp: strconv.FormatInt(timestamp.Unix(), 10),
	}
}
