// Package passgen generates random passwords for new entries.
package passgen

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/dmitrijs2005/vaultcore/internal/common"
)

const (
	lower   = "abcdefghijkmnopqrstuvwxyz"
	upper   = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	digits  = "23456789"
	symbols = "!#$%&*+-=?@^_~"
)

// Config selects the length and the character classes. Every enabled class
// appears at least once in the result.
type Config struct {
	Length  int
	Lower   bool
	Upper   bool
	Digits  bool
	Symbols bool
}

func Default() Config {
	return Config{Length: 20, Lower: true, Upper: true, Digits: true, Symbols: true}
}

func (c Config) classes() []string {
	var out []string
	for _, cl := range []struct {
		on  bool
		set string
	}{{c.Lower, lower}, {c.Upper, upper}, {c.Digits, digits}, {c.Symbols, symbols}} {
		if cl.on {
			out = append(out, cl.set)
		}
	}
	return out
}

func Generate(c Config) (string, error) {
	classes := c.classes()
	if len(classes) == 0 {
		return "", fmt.Errorf("%w: no character classes enabled", common.ErrValidation)
	}
	if c.Length < len(classes) {
		return "", fmt.Errorf("%w: length %d is shorter than %d required classes", common.ErrValidation, c.Length, len(classes))
	}

	var all string
	out := make([]byte, 0, c.Length)
	for _, set := range classes {
		ch, err := pick(set)
		if err != nil {
			return "", err
		}
		out = append(out, ch)
		all += set
	}
	for len(out) < c.Length {
		ch, err := pick(all)
		if err != nil {
			return "", err
		}
		out = append(out, ch)
	}

	// Fisher-Yates so the mandatory characters are not always first
	for i := len(out) - 1; i > 0; i-- {
		j, err := index(i + 1)
		if err != nil {
			return "", err
		}
		out[i], out[j] = out[j], out[i]
	}
	return string(out), nil
}

func pick(set string) (byte, error) {
	i, err := index(len(set))
	if err != nil {
		return 0, err
	}
	return set[i], nil
}

func index(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("random index: %w", err)
	}
	return int(v.Int64()), nil
}
