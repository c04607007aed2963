package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/blowfish"

	"github.com/paycore/tokend/internal/model"
)

// ErrInvalidSalt is returned when a configured bcrypt salt is malformed.
var ErrInvalidSalt = errors.New("invalid bcrypt salt")

// golang.org/x/crypto/bcrypt always draws a random salt, which rules out
// hash-based lookups. Salt reproduces the bcrypt construction on top of
// x/crypto/blowfish with a caller supplied salt; its output is an ordinary
// modular-crypt bcrypt string that bcrypt.CompareHashAndPassword accepts.

const (
	bcryptAlphabet = "./ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	minCost          = 4
	maxCost          = 31
	encodedSaltLen   = 22
	rawSaltLen       = 16
	cryptedHashBytes = 23
	// "$2a$" + 2 cost digits + "$" + encoded salt
	saltPrefixLen = 7 + encodedSaltLen
)

var (
	bcEncoding      = base64.NewEncoding(bcryptAlphabet).WithPadding(base64.NoPadding)
	magicCipherData = []byte("OrpheanBeholderScryDoubt")
)

// Salt is a parsed bcrypt salt in the form "$2a$10$" followed by 22 salt
// characters. A full bcrypt hash is also accepted; only its salt part is used.
type Salt struct {
	minor byte
	cost  int
	raw   []byte
}

// GenerateSalt draws a fresh random salt of the given cost. The result is
// meant to be generated once and kept in configuration: changing it orphans
// every stored token hash.
func GenerateSalt(cost int) (string, error) {
	if cost < minCost || cost > maxCost {
		return "", fmt.Errorf("%w: cost %d outside [%d, %d]", ErrInvalidSalt, cost, minCost, maxCost)
	}
	seed := make([]byte, 16)
	if _, err := rand.Read(seed); err != nil {
		return "", fmt.Errorf("read random seed: %w", err)
	}
	h, err := bcrypt.GenerateFromPassword(seed, cost)
	if err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return string(h[:saltPrefixLen]), nil
}

// ParseSalt parses a bcrypt salt string.
func ParseSalt(s string) (Salt, error) {
	if len(s) < saltPrefixLen {
		return Salt{}, fmt.Errorf("%w: want at least %d characters, got %d", ErrInvalidSalt, saltPrefixLen, len(s))
	}
	if s[0] != '$' || s[1] != '2' || s[3] != '$' || s[6] != '$' {
		return Salt{}, fmt.Errorf("%w: expected $2a$NN$ prefix", ErrInvalidSalt)
	}
	minor := s[2]
	if minor != 'a' && minor != 'b' && minor != 'y' {
		return Salt{}, fmt.Errorf("%w: unsupported version $2%c$", ErrInvalidSalt, minor)
	}
	cost, err := strconv.Atoi(s[4:6])
	if err != nil || cost < minCost || cost > maxCost {
		return Salt{}, fmt.Errorf("%w: cost %q out of range [%d, %d]", ErrInvalidSalt, s[4:6], minCost, maxCost)
	}
	raw, err := bcEncoding.DecodeString(s[7:saltPrefixLen])
	if err != nil || len(raw) != rawSaltLen {
		return Salt{}, fmt.Errorf("%w: salt is not 22 bcrypt base64 characters", ErrInvalidSalt)
	}
	return Salt{minor: minor, cost: cost, raw: raw}, nil
}

// Cost returns the bcrypt cost factor.
func (s Salt) Cost() int {
	return s.cost
}

// String returns the canonical "$2a$NN$<salt>" form.
func (s Salt) String() string {
	return fmt.Sprintf("$2%c$%02d$%s", s.minor, s.cost, bcEncoding.EncodeToString(s.raw))
}

// Hash returns the bcrypt hash of secret under this salt.
func (s Salt) Hash(secret model.Secret) (model.TokenHash, error) {
	key := append([]byte(secret), 0)
	c, err := blowfish.NewSaltedCipher(key, s.raw)
	if err != nil {
		return "", fmt.Errorf("init blowfish: %w", err)
	}
	rounds := uint64(1) << uint(s.cost)
	for i := uint64(0); i < rounds; i++ {
		blowfish.ExpandKey(key, c)
		blowfish.ExpandKey(s.raw, c)
	}

	data := make([]byte, len(magicCipherData))
	copy(data, magicCipherData)
	for i := 0; i < len(data); i += 8 {
		for j := 0; j < 64; j++ {
			c.Encrypt(data[i:i+8], data[i:i+8])
		}
	}
	return model.TokenHash(s.String() + bcEncoding.EncodeToString(data[:cryptedHashBytes])), nil
}
