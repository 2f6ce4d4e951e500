// Package credential mints worker identities and bearer tokens, derives the
// stored verification hash, and checks the token's lexical format.
//
// Token format:
//
//	wk1_<43 URL-safe base64 characters>   (32 random bytes, unpadded)
//
// The prefix carries the format version so a future scheme can coexist with
// tokens already deployed on workers.
package credential

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	TokenPrefix  = "wk1_"
	tokenEntropy = 32
	tokenBodyLen = 43

	maxWorkerIDLen = 128
)

var tokenPattern = regexp.MustCompile(`^wk1_[A-Za-z0-9_-]{43}$`)

// Codec hashes and verifies tokens. The zero value is not usable; build one
// with NewCodec.
type Codec struct {
	cost int
}

// NewCodec returns a Codec using the given bcrypt cost. Out-of-range costs
// fall back to bcrypt.DefaultCost.
func NewCodec(cost int) *Codec {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Codec{cost: cost}
}

// NewWorkerID returns a fresh, globally unique worker identity.
func NewWorkerID() string {
	return uuid.NewString()
}

// NewToken returns a fresh plaintext bearer token.
func (c *Codec) NewToken() (string, error) {
	b := make([]byte, tokenEntropy)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return TokenPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// Hash derives the verification hash stored in place of the token.
func (c *Codec) Hash(token string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(token), c.cost)
	if err != nil {
		return "", fmt.Errorf("hash token: %w", err)
	}
	return string(h), nil
}

// Matches reports whether token hashes to hash. An empty hash never matches.
func (c *Codec) Matches(hash, token string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}

// ValidFormat reports whether token is lexically a current-version token.
func ValidFormat(token string) bool {
	return len(token) == len(TokenPrefix)+tokenBodyLen && tokenPattern.MatchString(token)
}

// ValidWorkerID reports whether id is acceptable as a claimed identity.
// Identities are opaque; only emptiness, length and control characters are
// checked here.
func ValidWorkerID(id string) bool {
	if id == "" || len(id) > maxWorkerIDLen {
		return false
	}
	return !strings.ContainsFunc(id, func(r rune) bool { return r < 0x20 || r == 0x7f })
}
