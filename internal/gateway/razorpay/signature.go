package razorpay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/vladislavdragonenkov/donation-reconciler/internal/domain"
)

const (
	// SignatureHeader содержит hex(HMAC-SHA256(body, secret)).
	SignatureHeader = "X-Razorpay-Signature"
	// EventIDHeader содержит уникальный идентификатор доставки события.
	EventIDHeader = "X-Razorpay-Event-Id"
)

// Verify проверяет подпись webhook. HMAC считается по сырым байтам тела,
// сравнение выполняется за постоянное время.
func Verify(rawBody []byte, signatureHeader, secret string) bool {
	if secret == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signatureHeader))
	if err != nil || len(got) != sha256.Size {
		return false
	}
	return hmac.Equal(got, mac(rawBody, secret))
}

// Sign возвращает подпись тела в формате заголовка X-Razorpay-Signature.
func Sign(rawBody []byte, secret string) string {
	return hex.EncodeToString(mac(rawBody, secret))
}

func mac(rawBody []byte, secret string) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(rawBody)
	return h.Sum(nil)
}

// Verifier проверяет подписи с заранее заданным секретом.
type Verifier struct {
	secret string
}

// NewVerifier создаёт Verifier. Пустой секрет допустим: все проверки
// тогда завершаются ErrVerificationUnavailable.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

// Configured сообщает, задан ли секрет.
func (v *Verifier) Configured() bool {
	return v != nil && v.secret != ""
}

// Check возвращает nil для подлинного тела, ErrVerificationUnavailable без секрета
// и ErrInvalidSignature при несовпадении.
func (v *Verifier) Check(rawBody []byte, signatureHeader string) error {
	if !v.Configured() {
		return domain.ErrVerificationUnavailable
	}
	if !Verify(rawBody, signatureHeader, v.secret) {
		return domain.ErrInvalidSignature
	}
	return nil
}
