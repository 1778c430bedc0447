package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// PaymentSignature is the signature the checkout widget returns for a
// successful payment: HMAC-SHA256("<order_id>|<payment_id>").
func PaymentSignature(secret, gatewayOrderID, gatewayPaymentID string) string {
	return Sign(secret, []byte(gatewayOrderID+"|"+gatewayPaymentID))
}

func VerifyPaymentSignature(secret, gatewayOrderID, gatewayPaymentID, signature string) bool {
	return verify(PaymentSignature(secret, gatewayOrderID, gatewayPaymentID), signature)
}

// VerifyWebhookSignature checks signature against the raw request body.
func VerifyWebhookSignature(secret string, body []byte, signature string) bool {
	return verify(Sign(secret, body), signature)
}

func verify(expected, got string) bool {
	if got == "" {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(got))
}
