// Package token implements the API key format: random secret generation, the
// keyed integrity code appended to it, and the salted one-way hash under
// which tokens are stored.
package token

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	"github.com/paycore/tokend/internal/model"
)

// Secret length bounds. A secret is 130 random bits rendered in base 32
// without leading zeros, so it never exceeds 26 characters; draws shorter than
// 24 characters are discarded. Keys issued under these bounds are between
// SecretMinLength+IntegrityCodeLength and SecretMaxLength+IntegrityCodeLength
// characters long.
const (
	SecretMinLength = 24
	SecretMaxLength = 26

	secretBits = 130
)

// Alphabet is the lowercase base-32-hex alphabet used by secrets and
// integrity codes.
const Alphabet = "0123456789abcdefghijklmnopqrstuv"

var secretLimit = new(big.Int).Lsh(big.NewInt(1), secretBits)

// Generator produces token secrets. Two secrets colliding is bounded by the
// 130-bit birthday limit; it is a probability, not something Generator
// enforces. The store's unique hash constraint catches the impossible case.
type Generator struct {
	rand io.Reader
}

// NewGenerator returns a Generator reading from crypto/rand.
func NewGenerator() *Generator {
	return &Generator{rand: rand.Reader}
}

// NewGeneratorWithReader returns a Generator reading from r. Intended for
// tests; r must be a cryptographically secure source in production.
func NewGeneratorWithReader(r io.Reader) *Generator {
	return &Generator{rand: r}
}

// NewSecret returns a fresh secret. It panics if the random source fails,
// since no token can be issued safely without one.
func (g *Generator) NewSecret() model.Secret {
	for {
		n, err := rand.Int(g.rand, secretLimit)
		if err != nil {
			panic(fmt.Sprintf("token: read random source: %v", err))
		}
		// big.Int.Text(32) renders digits with exactly the 0-9a-v alphabet.
		s := n.Text(32)
		if len(s) >= SecretMinLength {
			return model.Secret(s)
		}
	}
}
