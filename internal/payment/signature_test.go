package payment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSign_KnownDigest(t *testing.T) {
	assert.Equal(t, "d8160c9b3dc20d4e931aeb4f45262155", Sign("a", "b"))
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", Sign(""))
}

func TestWebhookSignature_AnyMutationFails(t *testing.T) {
	fields := []string{"12345", "10", "secret-two", "RUB", "1714564800000-42"}
	sign := WebhookSignature(fields[0], fields[1], fields[2], fields[3], fields[4])

	assert.True(t, Verify(WebhookSignature(fields[0], fields[1], fields[2], fields[3], fields[4]), sign))

	for i := range fields {
		for pos := range fields[i] {
			mutated := append([]string(nil), fields...)
			b := []byte(mutated[i])
			b[pos] ^= 0x01
			mutated[i] = string(b)

			got := WebhookSignature(mutated[0], mutated[1], mutated[2], mutated[3], mutated[4])
			assert.False(t, Verify(got, sign), "field %d position %d", i, pos)
		}
	}
}

func TestVerify_RejectsCaseAndLengthChanges(t *testing.T) {
	sign := LinkSignature("12345", "10", "secret-one", "RUB", "1-42")

	assert.Equal(t, "3db558afbc325cfc05e4331fa4a15b54", sign)
	assert.True(t, Verify(sign, sign))
	assert.False(t, Verify(sign, strings.ToUpper(sign)))
	assert.False(t, Verify(sign, ""))
	assert.False(t, Verify(sign, sign[:31]))
	assert.False(t, Verify(sign, sign+"0"))
}
