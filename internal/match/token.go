package match

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// tokenAlphabet is the character set for room tokens.
const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// maxTokenAttempts bounds uniqueness retries before giving up.
const maxTokenAttempts = 100

// Source provides uniformly distributed random ints for token generation.
type Source interface {
	// Intn returns a random int in [0, n). Implementations may panic when n <= 0.
	Intn(n int) int
}

// cryptoSource implements Source using crypto/rand.
//
// Invariant: all values produced are cryptographically secure and uniformly
// distributed in [0, n) for any n > 0.
type cryptoSource struct{}

// NewCryptoSource returns a Source backed by crypto/rand.
//
// Postcondition: Every value returned by Intn is in [0, n).
func NewCryptoSource() Source {
	return &cryptoSource{}
}

// Intn returns a cryptographically secure random int in [0, n).
//
// Precondition: n > 0. Panics with "match: Intn called with n <= 0" if n <= 0.
// Panics with "match: crypto/rand failure: <err>" if crypto/rand fails.
func (c *cryptoSource) Intn(n int) int {
	if n <= 0 {
		panic("match: Intn called with n <= 0")
	}
	val, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic("match: crypto/rand failure: " + err.Error())
	}
	return int(val.Int64())
}

// tokenGenerator produces room tokens of a fixed length, unique against
// a caller-supplied set of live tokens.
type tokenGenerator struct {
	src    Source
	length int
}

func newTokenGenerator(src Source, length int) *tokenGenerator {
	return &tokenGenerator{src: src, length: length}
}

// generate returns a fresh token for which inUse reports false.
//
// Precondition: inUse must be non-nil.
// Postcondition: Returns a token of exactly g.length characters from
// tokenAlphabet, or ErrTokenExhausted after maxTokenAttempts collisions.
func (g *tokenGenerator) generate(inUse func(string) bool) (string, error) {
	var sb strings.Builder
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		sb.Reset()
		sb.Grow(g.length)
		for i := 0; i < g.length; i++ {
			sb.WriteByte(tokenAlphabet[g.src.Intn(len(tokenAlphabet))])
		}
		token := sb.String()
		if !inUse(token) {
			return token, nil
		}
	}
	return "", ErrTokenExhausted
}
