package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// JWTOptions configures a JWT verifier.
type JWTOptions struct {
	// Issuer, when set, must equal the iss claim.
	Issuer string
	// Audiences, when set, must intersect the aud claim.
	Audiences []string
	// OptionalKid lets tokens without a kid header match any key.
	OptionalKid bool
	// JWKS is the key set document. Either JWKS or JWKSURL is required.
	JWKS []byte
	// JWKSURL is fetched and cached for MaxAge.
	JWKSURL string
	MaxAge  time.Duration
	Client  *http.Client
}

// JWT verifies bearer tokens against a JSON Web Key Set.
type JWT struct {
	opts JWTOptions

	mu        sync.RWMutex
	keys      *jose.JSONWebKeySet
	fetchedAt time.Time
	group     singleflight.Group
}

// NewJWT builds a verifier. Inline key sets are parsed eagerly.
func NewJWT(opts JWTOptions) (*JWT, error) {
	if opts.JWKS == nil && opts.JWKSURL == "" {
		return nil, errors.New("auth: jwt requires a key set")
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	v := &JWT{opts: opts}
	if opts.JWKS != nil {
		set, err := parseKeySet(opts.JWKS)
		if err != nil {
			return nil, err
		}
		v.keys = set
	}
	return v, nil
}

func parseKeySet(raw []byte) (*jose.JSONWebKeySet, error) {
	var set jose.JSONWebKeySet
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, errors.Wrap(err, "auth: parse jwks")
	}
	return &set, nil
}

func (v *JWT) Verify(ctx context.Context, headers http.Header) error {
	raw := headers.Get("Authorization")
	if raw == "" {
		return ErrMissing
	}
	scheme, token, ok := strings.Cut(raw, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ErrMissing
	}
	keys, err := v.keySet(ctx)
	if err != nil {
		return err
	}

	parsed, err := jwt.Parse(strings.TrimSpace(token), func(t *jwt.Token) (any, error) {
		return v.lookupKey(keys, t)
	}, jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) || errors.Is(err, jwt.ErrTokenNotValidYet) ||
			errors.Is(err, jwt.ErrTokenRequiredClaimMissing) {
			return ErrValidationCheckFailed
		}
		return ErrInvalid
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return ErrInvalid
	}
	return v.checkClaims(claims)
}

func (v *JWT) checkClaims(claims jwt.MapClaims) error {
	if v.opts.Issuer != "" {
		iss, err := claims.GetIssuer()
		if err != nil || iss != v.opts.Issuer {
			return ErrValidationCheckFailed
		}
	}
	if len(v.opts.Audiences) > 0 {
		aud, err := claims.GetAudience()
		if err != nil || !intersects(aud, v.opts.Audiences) {
			return ErrValidationCheckFailed
		}
	}
	return nil
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func (v *JWT) lookupKey(keys *jose.JSONWebKeySet, t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	var candidates []jose.JSONWebKey
	if kid != "" {
		candidates = keys.Key(kid)
	} else if v.opts.OptionalKid {
		candidates = keys.Keys
	}
	for _, k := range candidates {
		if k.Algorithm != "" && k.Algorithm != t.Method.Alg() {
			continue
		}
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		return k.Key, nil
	}
	return nil, errors.Errorf("auth: no key for kid %q", kid)
}

func (v *JWT) keySet(ctx context.Context) (*jose.JSONWebKeySet, error) {
	v.mu.RLock()
	keys, fetched := v.keys, v.fetchedAt
	v.mu.RUnlock()
	if keys != nil && (v.opts.JWKSURL == "" || time.Since(fetched) < v.opts.MaxAge) {
		return keys, nil
	}
	res, err, _ := v.group.Do(v.opts.JWKSURL, func() (any, error) {
		return v.fetch(ctx)
	})
	if err != nil {
		if keys != nil {
			return keys, nil
		}
		return nil, err
	}
	return res.(*jose.JSONWebKeySet), nil
}

func (v *JWT) fetch(ctx context.Context) (*jose.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.opts.JWKSURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "auth: jwks request")
	}
	resp, err := v.opts.Client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "auth: fetch jwks")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("auth: fetch jwks: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "auth: read jwks")
	}
	set, err := parseKeySet(body)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.keys, v.fetchedAt = set, time.Now()
	v.mu.Unlock()
	return set, nil
}
