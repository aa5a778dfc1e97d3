package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Key builds a guard key readable by namespace, e.g. "webhook:3f1c...". Parts are separated by a
// NUL byte so ("a", "bc") and ("ab", "c") never collide.
func Key(namespace string, parts ...any) string {
	h := sha256.New()
	for i, part := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		fmt.Fprint(h, part)
	}

	return namespace + ":" + hex.EncodeToString(h.Sum(nil))[:32]
}
