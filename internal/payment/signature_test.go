package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaymentSignature(t *testing.T) {
	mac := hmac.New(sha256.New, []byte("s"))
	mac.Write([]byte("o1|p1"))
	want := hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, PaymentSignature("s", "o1", "p1"))
	assert.True(t, VerifyPaymentSignature("s", "o1", "p1", want))
}

func TestVerifyPaymentSignatureRejectsMutations(t *testing.T) {
	good := PaymentSignature("s", "o1", "p1")

	for i := range good {
		mutated := []byte(good)
		if mutated[i] == '0' {
			mutated[i] = '1'
		} else {
			mutated[i] = '0'
		}
		assert.False(t, VerifyPaymentSignature("s", "o1", "p1", string(mutated)), "position %d", i)
	}

	assert.False(t, VerifyPaymentSignature("s", "o1", "p1", ""))
	assert.False(t, VerifyPaymentSignature("s", "o1", "p1", good[:len(good)-1]))
	assert.False(t, VerifyPaymentSignature("other", "o1", "p1", good))
	assert.False(t, VerifyPaymentSignature("s", "o1", "p2", good))
}

func TestVerifyWebhookSignature(t *testing.T) {
	body := []byte(`{"event":"payment.captured"}`)
	sig := Sign("whsec", body)

	assert.True(t, VerifyWebhookSignature("whsec", body, sig))
	assert.False(t, VerifyWebhookSignature("whsec", []byte(`{"event":"payment.failed"}`), sig))
	assert.False(t, VerifyWebhookSignature("", body, sig))
}
