package engine

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
)

// codeAttempts bounds collision retries during code generation.
const codeAttempts = 10

// CodeProbe reports whether a candidate code is already held by an active
// confirmed registration. Supplied by the caller so the check runs inside
// the caller's transaction.
type CodeProbe func(code string) (bool, error)

// GenerateCode draws a human-typeable check-in code of the form "203-776"
// from crypto/rand, retrying on collision up to codeAttempts times before
// failing with ErrCodeSpaceExhausted. Codes containing a "000" group are
// reserved and never issued.
func GenerateCode(probe CodeProbe) (string, error) {
	for attempt := 0; attempt < codeAttempts; attempt++ {
		code, err := randomCode()
		if err != nil {
			return "", fmt.Errorf("draw code: %w", err)
		}
		inUse, err := probe(code)
		if err != nil {
			return "", fmt.Errorf("probe code: %w", err)
		}
		if !inUse {
			return code, nil
		}
		codeCollisions.Inc()
	}
	return "", fmt.Errorf("no free code after %d attempts: %w", codeAttempts, ErrCodeSpaceExhausted)
}

func randomCode() (string, error) {
	a, err := codeGroup()
	if err != nil {
		return "", err
	}
	b, err := codeGroup()
	if err != nil {
		return "", err
	}
	return a + "-" + b, nil
}

// codeGroup draws one 3-digit group, redrawing the reserved "000".
func codeGroup() (string, error) {
	for {
		n, err := rand.Int(rand.Reader, big.NewInt(1000))
		if err != nil {
			return "", err
		}
		if n.Int64() == 0 {
			continue
		}
		return fmt.Sprintf("%03d", n.Int64()), nil
	}
}

// CheckinCodec encodes and authenticates the scannable check-in payload.
// The payload carries the registration ID and code plus an HMAC, so a
// scanner can prove engine issuance offline; granting check-in credit still
// requires the cross-check against stored registration state in
// Engine.VerifyCheckin.
type CheckinCodec struct {
	secret []byte
}

// NewCheckinCodec constructs a codec keyed with the given secret.
func NewCheckinCodec(secret []byte) *CheckinCodec {
	return &CheckinCodec{secret: secret}
}

// Encode produces the payload for a (registration, code) pair. The encoding
// is deterministic: the same inputs always yield the same payload.
func (c *CheckinCodec) Encode(registrationID, code string) string {
	body := registrationID + "|" + code
	return base64.RawURLEncoding.EncodeToString([]byte(body)) +
		"." + base64.RawURLEncoding.EncodeToString(c.sign(body))
}

// Decode recovers the registration ID and code from a payload, returning
// ErrForged for anything that fails to parse or authenticate.
func (c *CheckinCodec) Decode(payload string) (registrationID, code string, err error) {
	dot := strings.IndexByte(payload, '.')
	if dot < 0 {
		return "", "", fmt.Errorf("malformed payload: %w", ErrForged)
	}
	body, err := base64.RawURLEncoding.DecodeString(payload[:dot])
	if err != nil {
		return "", "", fmt.Errorf("decode payload body: %w", ErrForged)
	}
	mac, err := base64.RawURLEncoding.DecodeString(payload[dot+1:])
	if err != nil {
		return "", "", fmt.Errorf("decode payload mac: %w", ErrForged)
	}
	if !hmac.Equal(mac, c.sign(string(body))) {
		return "", "", fmt.Errorf("payload mac mismatch: %w", ErrForged)
	}
	sep := strings.LastIndexByte(string(body), '|')
	if sep < 0 {
		return "", "", fmt.Errorf("malformed payload body: %w", ErrForged)
	}
	return string(body)[:sep], string(body)[sep+1:], nil
}

func (c *CheckinCodec) sign(body string) []byte {
	h := hmac.New(sha256.New, c.secret)
	h.Write([]byte(body))
	return h.Sum(nil)
}
