package secret

import (
	"crypto/rand"
	"fmt"
	"io"
)

// Style selects the alphabet of generated secrets.
type Style string

const (
	// StyleHex produces lowercase hexadecimal, for secrets only machines read.
	StyleHex Style = "hex"
	// StyleFriendly omits characters that are easy to confuse when a person
	// copies the secret by hand.
	StyleFriendly Style = "friendly"
)

const (
	hexAlphabet = "0123456789abcdef"
	// No 0/O/o, 1/I/l.
	friendlyAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnpqrstuvwxyz"
)

// Generator creates random secrets of a fixed style and length.
type Generator struct {
	Style  Style
	Length int
}

// New returns a fresh secret according to the generator's settings.
func (g Generator) New() (string, error) {
	switch g.Style {
	case StyleHex:
		return GenerateHex(g.Length)
	case StyleFriendly, "":
		return GenerateFriendly(g.Length)
	default:
		return "", fmt.Errorf("unknown secret style %q", g.Style)
	}
}

// GenerateHex returns n random lowercase hex characters.
func GenerateHex(n int) (string, error) {
	return randomString(rand.Reader, hexAlphabet, n)
}

// GenerateFriendly returns n random characters from an alphabet without
// visually ambiguous characters.
func GenerateFriendly(n int) (string, error) {
	return randomString(rand.Reader, friendlyAlphabet, n)
}

// randomString draws n characters uniformly from alphabet. Bytes that would
// bias the modulo are rejected and redrawn.
func randomString(r io.Reader, alphabet string, n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("secret length must be positive, got %d", n)
	}

	size := len(alphabet)
	limit := 256 - (256 % size)

	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%size])
			if len(out) == n {
				break
			}
		}
	}

	return string(out), nil
}
