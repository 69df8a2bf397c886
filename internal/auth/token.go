// Package auth verifies the signed session credentials minted by the device
// pairing service.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AudioSource identifies the capture device for a session.
type AudioSource string

const (
	SourcePhone    AudioSource = "phone"
	SourceWearable AudioSource = "wearable"
)

// Valid reports whether the source is one the relay accepts.
func (a AudioSource) Valid() bool {
	return a == SourcePhone || a == SourceWearable
}

// SessionCredential is the verified identity for one streaming session. It
// exists only in memory during connection setup and is never persisted.
type SessionCredential struct {
	SubjectID    string
	SessionID    string
	AudioSource  AudioSource
	SampleRateHz int
}

// ErrUnauthorized is returned for every verification failure: bad signature,
// expired token, malformed payload, missing claims. Callers must not be able
// to tell which check failed.
var ErrUnauthorized = errors.New("unauthorized")

// TokenVerifier validates session tokens against the process-wide secret.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier builds a verifier using the shared signing secret.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify validates the token's signature and expiry and extracts the
// credential. Every failure mode collapses to ErrUnauthorized.
func (v *TokenVerifier) Verify(tokenString string) (*SessionCredential, error) {
	if tokenString == "" || len(v.secret) == 0 {
		return nil, ErrUnauthorized
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnauthorized
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrUnauthorized
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrUnauthorized
	}

	subject, _ := claims["sub"].(string)
	sessionID, _ := claims["sid"].(string)
	source, _ := claims["audio_source"].(string)
	rate, _ := claims["sample_rate_hz"].(float64)

	cred := &SessionCredential{
		SubjectID:    subject,
		SessionID:    sessionID,
		AudioSource:  AudioSource(source),
		SampleRateHz: int(rate),
	}
	if cred.SubjectID == "" || cred.SessionID == "" || !cred.AudioSource.Valid() || cred.SampleRateHz <= 0 {
		return nil, ErrUnauthorized
	}
	return cred, nil
}

// Sign mints a credential token. Production tokens come from the pairing
// service; this exists for local tooling and tests.
func Sign(secret string, cred SessionCredential, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":            cred.SubjectID,
		"sid":            cred.SessionID,
		"audio_source":   string(cred.AudioSource),
		"sample_rate_hz": cred.SampleRateHz,
		"iat":            now.Unix(),
		"exp":            now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
