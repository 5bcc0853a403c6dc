package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// VerifySignature checks an HMAC-SHA256 webhook signature. Both Square and
// the payout provider sign the raw request body and send the digest base64
// encoded. Comparison is constant time.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || strings.TrimSpace(signature) == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature)))
}
