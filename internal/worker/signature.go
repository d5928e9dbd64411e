package worker

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// computeSignature generates the HMAC-SHA256 hex signature carried in the
// X-Webhook-Signature header.
func computeSignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
