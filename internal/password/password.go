// Package password generates replacement credentials for deprovisioned
// accounts.
package password

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"unicode/utf8"
)

const (
	upper   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lower   = "abcdefghijklmnopqrstuvwxyz"
	digits  = "0123456789"
	special = "@#$%&*?!"
	all     = upper + lower + digits + special

	// DefaultLength is the length used by Generate.
	DefaultLength = 16
	// MaxAttempts bounds the number of candidates tried before falling back.
	MaxAttempts = 100
	// minNameLength: names this short or shorter are not excluded.
	minNameLength = 2
)

var ErrTooShort = errors.New("password: length must be at least 4")

// Password is a generated credential.
type Password struct {
	Value string
	// Fallback is set when no candidate avoided the excluded names within
	// MaxAttempts. Value then carries neither the exclusion nor the
	// one-of-each-class guarantee.
	Fallback bool
}

// Generator draws passwords from an entropy source.
type Generator struct {
	rand        io.Reader
	maxAttempts int
}

// NewGenerator returns a generator reading from r; nil selects crypto/rand.
func NewGenerator(r io.Reader) *Generator {
	if r == nil {
		r = rand.Reader
	}
	return &Generator{rand: r, maxAttempts: MaxAttempts}
}

var defaultGenerator = NewGenerator(nil)

// Generate produces a DefaultLength password avoiding the given names.
func Generate(exclude ...string) (Password, error) {
	return defaultGenerator.Generate(DefaultLength, exclude)
}

// Generate builds a password of the requested length containing at least one
// uppercase letter, lowercase letter, digit and special character, and none of
// the exclude names (case-insensitive, names of three or more characters).
func (g *Generator) Generate(length int, exclude []string) (Password, error) {
	if length < 4 {
		return Password{}, ErrTooShort
	}
	names := normalizeNames(exclude)

	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		candidate, err := g.candidate(length)
		if err != nil {
			return Password{}, err
		}
		if !containsAny(candidate, names) {
			return Password{Value: candidate}, nil
		}
	}

	buf := make([]byte, length)
	for i := range buf {
		c, err := g.pick(all)
		if err != nil {
			return Password{}, err
		}
		buf[i] = c
	}
	return Password{Value: string(buf), Fallback: true}, nil
}

func (g *Generator) candidate(length int) (string, error) {
	buf := make([]byte, 0, length)
	for _, class := range []string{upper, lower, digits, special} {
		c, err := g.pick(class)
		if err != nil {
			return "", err
		}
		buf = append(buf, c)
	}
	for len(buf) < length {
		c, err := g.pick(all)
		if err != nil {
			return "", err
		}
		buf = append(buf, c)
	}
	if err := g.shuffle(buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func (g *Generator) pick(set string) (byte, error) {
	i, err := g.intn(len(set))
	if err != nil {
		return 0, err
	}
	return set[i], nil
}

// shuffle is a Fisher-Yates permutation driven by the entropy source.
func (g *Generator) shuffle(buf []byte) error {
	for i := len(buf) - 1; i > 0; i-- {
		j, err := g.intn(i + 1)
		if err != nil {
			return err
		}
		buf[i], buf[j] = buf[j], buf[i]
	}
	return nil
}

func (g *Generator) intn(n int) (int, error) {
	v, err := rand.Int(g.rand, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("password: read entropy: %w", err)
	}
	return int(v.Int64()), nil
}

func normalizeNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if utf8.RuneCountInString(n) <= minNameLength {
			continue
		}
		out = append(out, n)
	}
	return out
}

func containsAny(candidate string, names []string) bool {
	lowered := strings.ToLower(candidate)
	for _, n := range names {
		if strings.Contains(lowered, n) {
			return true
		}
	}
	return false
}
