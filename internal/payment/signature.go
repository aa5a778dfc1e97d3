package payment

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// Sign returns the lowercase hex MD5 digest of fields joined with ':'.
// The gateway fixes the field order, so callers pass fields exactly as the gateway expects them.
func Sign(fields ...string) string {
	sum := md5.Sum([]byte(strings.Join(fields, ":")))
	return hex.EncodeToString(sum[:])
}

// LinkSignature signs an outgoing payment link: merchant_id:amount:secret1:currency:order_id.
func LinkSignature(merchantID, amount, secret1, currency, orderID string) string {
	return Sign(merchantID, amount, secret1, currency, orderID)
}

// WebhookSignature is the digest the provider sends in SIGN: merchant_id:amount:secret2:currency:order_id.
func WebhookSignature(merchantID, amount, secret2, currency, orderID string) string {
	return Sign(merchantID, amount, secret2, currency, orderID)
}

// Verify compares a supplied signature against the expected one in constant time.
func Verify(expected, supplied string) bool {
	return subtle.ConstantTimeCompare([]byte(expected), []byte(supplied)) == 1
}
