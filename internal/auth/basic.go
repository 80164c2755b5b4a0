package auth

import (
	"bufio"
	"context"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Basic verifies HTTP basic credentials against htpasswd entries. Supported
// hash formats are bcrypt ($2a$, $2b$, $2y$) and {SHA}.
type Basic struct {
	users map[string]string
}

// NewBasic parses htpasswd content. Blank lines and lines starting with '#'
// are skipped.
func NewBasic(htpasswd string) *Basic {
	users := make(map[string]string)
	sc := bufio.NewScanner(strings.NewReader(htpasswd))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		user, hash, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		users[user] = hash
	}
	return &Basic{users: users}
}

func (b *Basic) Verify(_ context.Context, headers http.Header) error {
	raw := headers.Get("Authorization")
	if raw == "" {
		return ErrMissing
	}
	scheme, payload, ok := strings.Cut(raw, " ")
	if !ok || !strings.EqualFold(scheme, "Basic") {
		return ErrInvalid
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return ErrInvalid
	}
	user, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return ErrInvalid
	}
	hash, ok := b.users[user]
	if !ok || !checkPassword(hash, password) {
		return ErrInvalid
	}
	return nil
}

func checkPassword(hash, password string) bool {
	switch {
	case strings.HasPrefix(hash, "$2"):
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
	case strings.HasPrefix(hash, "{SHA}"):
		sum := sha1.Sum([]byte(password))
		want := base64.StdEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(want), []byte(strings.TrimPrefix(hash, "{SHA}"))) == 1
	}
	return false
}
