package token

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"

	"github.com/paycore/tokend/internal/model"
)

// IntegrityCodeLength is the length of the keyed code appended to a secret:
// a 160-bit HMAC-SHA1 in base-32-hex is always 32 characters.
const IntegrityCodeLength = 32

// Length window of a well-formed API key.
const (
	MinAPIKeyLength = SecretMinLength + IntegrityCodeLength
	MaxAPIKeyLength = SecretMaxLength + IntegrityCodeLength
)

// ErrMissingHMACSecret is returned when the codec is configured without an
// HMAC secret.
var ErrMissingHMACSecret = errors.New("hmac secret is required")

// Config carries the shared server-side material the codec needs. The salt is
// deliberately fixed across tokens so a presented key can be looked up by
// hash without per-record salts.
type Config struct {
	HMACSecret string
	BcryptSalt string
}

// Codec turns secrets into distributable API keys and back, and computes the
// storage hash of a secret.
type Codec struct {
	hmacKey []byte
	salt    Salt
	gen     *Generator
}

// NewCodec validates cfg and returns a Codec using a crypto/rand generator.
func NewCodec(cfg Config) (*Codec, error) {
	return NewCodecWithGenerator(cfg, NewGenerator())
}

// NewCodecWithGenerator is NewCodec with an explicit secret generator.
func NewCodecWithGenerator(cfg Config, gen *Generator) (*Codec, error) {
	if cfg.HMACSecret == "" {
		return nil, ErrMissingHMACSecret
	}
	salt, err := ParseSalt(cfg.BcryptSalt)
	if err != nil {
		return nil, err
	}
	return &Codec{
		hmacKey: []byte(cfg.HMACSecret),
		salt:    salt,
		gen:     gen,
	}, nil
}

// Issue generates a new secret and returns its storage hash together with the
// API key to hand to the caller. The key is not retained anywhere.
func (c *Codec) Issue() (model.TokenHash, string) {
	secret := c.gen.NewSecret()
	return c.HashOf(secret), string(secret) + c.integrityCode(secret)
}

// VerifyAndHash checks the integrity code of apiKey and, when it matches,
// returns the storage hash of the embedded secret. Keys outside the length
// window are rejected before any cryptographic work.
func (c *Codec) VerifyAndHash(apiKey string) (model.TokenHash, bool) {
	if len(apiKey) < MinAPIKeyLength || len(apiKey) > MaxAPIKeyLength {
		return "", false
	}
	split := len(apiKey) - IntegrityCodeLength
	secret := model.Secret(apiKey[:split])
	claimed := apiKey[split:]

	if !hmac.Equal([]byte(claimed), []byte(c.integrityCode(secret))) {
		return "", false
	}
	return c.HashOf(secret), true
}

// HashOf returns the storage hash of secret.
func (c *Codec) HashOf(secret model.Secret) model.TokenHash {
	h, err := c.salt.Hash(secret)
	if err != nil {
		// Only reachable with an empty key, and a secret always has at
		// least the trailing NUL.
		panic(fmt.Sprintf("token: hash secret: %v", err))
	}
	return h
}

func (c *Codec) integrityCode(secret model.Secret) string {
	mac := hmac.New(sha1.New, c.hmacKey)
	mac.Write([]byte(secret))
	return strings.ToLower(base32.HexEncoding.EncodeToString(mac.Sum(nil)))
}
