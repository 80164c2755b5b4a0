package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func basicHeader(user, password string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(user+":"+password)))
	return h
}

func testHtpasswd(t *testing.T) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)
	sum := sha1.Sum([]byte("abc123"))
	return "# users\n" +
		"testuser1:" + string(hash) + "\n" +
		"testuser3:{SHA}" + base64.StdEncoding.EncodeToString(sum[:]) + "\n"
}

func TestBasic(t *testing.T) {
	v := NewBasic(testHtpasswd(t))
	ctx := context.Background()

	require.NoError(t, v.Verify(ctx, basicHeader("testuser1", "password123")))
	require.NoError(t, v.Verify(ctx, basicHeader("testuser3", "abc123")))
	require.ErrorIs(t, v.Verify(ctx, basicHeader("testuser1", "wrong")), ErrInvalid)
	require.ErrorIs(t, v.Verify(ctx, basicHeader("nobody", "x")), ErrInvalid)
	require.ErrorIs(t, v.Verify(ctx, http.Header{}), ErrMissing)

	h := http.Header{}
	h.Set("Authorization", "Basic !!!")
	require.ErrorIs(t, v.Verify(ctx, h), ErrInvalid)
}

type jwtFixture struct {
	key  *rsa.PrivateKey
	jwks []byte
}

func newJWTFixture(t *testing.T) jwtFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &key.PublicKey,
		KeyID:     "k1",
		Algorithm: "RS256",
		Use:       "sig",
	}}}
	raw, err := json.Marshal(set)
	require.NoError(t, err)
	return jwtFixture{key: key, jwks: raw}
}

func (f jwtFixture) token(t *testing.T, kid string, claims jwt.MapClaims) http.Header {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	signed, err := tok.SignedString(f.key)
	require.NoError(t, err)
	h := http.Header{}
	h.Set("Authorization", "Bearer "+signed)
	return h
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss": "me",
		"aud": []string{"api"},
		"exp": time.Now().Add(time.Hour).Unix(),
	}
}

func TestJWTLocalKeySet(t *testing.T) {
	f := newJWTFixture(t)
	v, err := NewJWT(JWTOptions{JWKS: f.jwks, Issuer: "me", Audiences: []string{"api", "web"}})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, v.Verify(ctx, f.token(t, "k1", validClaims())))
	require.ErrorIs(t, v.Verify(ctx, http.Header{}), ErrMissing)

	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	require.ErrorIs(t, v.Verify(ctx, f.token(t, "k1", expired)), ErrValidationCheckFailed)

	wrongIss := validClaims()
	wrongIss["iss"] = "other"
	require.ErrorIs(t, v.Verify(ctx, f.token(t, "k1", wrongIss)), ErrValidationCheckFailed)

	wrongAud := validClaims()
	wrongAud["aud"] = []string{"elsewhere"}
	require.ErrorIs(t, v.Verify(ctx, f.token(t, "k1", wrongAud)), ErrValidationCheckFailed)

	require.ErrorIs(t, v.Verify(ctx, f.token(t, "unknown", validClaims())), ErrInvalid)
	require.ErrorIs(t, v.Verify(ctx, f.token(t, "", validClaims())), ErrInvalid)

	h := http.Header{}
	h.Set("Authorization", "Bearer not.a.jwt")
	require.ErrorIs(t, v.Verify(ctx, h), ErrInvalid)
}

func TestJWTOptionalKid(t *testing.T) {
	f := newJWTFixture(t)
	v, err := NewJWT(JWTOptions{JWKS: f.jwks, OptionalKid: true})
	require.NoError(t, err)
	require.NoError(t, v.Verify(context.Background(), f.token(t, "", validClaims())))
}

func TestJWTRemoteKeySetIsCached(t *testing.T) {
	f := newJWTFixture(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write(f.jwks)
	}))
	defer srv.Close()

	v, err := NewJWT(JWTOptions{JWKSURL: srv.URL, MaxAge: time.Hour, Client: srv.Client()})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, v.Verify(context.Background(), f.token(t, "k1", validClaims())))
	}
	require.Equal(t, int32(1), hits.Load())
}

func TestMoreSpecific(t *testing.T) {
	require.Equal(t, ErrInvalid, MoreSpecific(ErrMissing, ErrInvalid))
	require.Equal(t, ErrInvalid, MoreSpecific(ErrInvalid, ErrValidationCheckFailed))
	require.Equal(t, ErrValidationCheckFailed, MoreSpecific(ErrMissing, ErrValidationCheckFailed))
	other := errors.New("jwks unavailable")
	require.Equal(t, other, MoreSpecific(ErrInvalid, other))
	require.Equal(t, ErrMissing, MoreSpecific(nil, ErrMissing))
}

func TestCombinators(t *testing.T) {
	ok := VerifierFunc(func(context.Context, http.Header) error { return nil })
	missing := VerifierFunc(func(context.Context, http.Header) error { return ErrMissing })
	invalid := VerifierFunc(func(context.Context, http.Header) error { return ErrInvalid })
	ctx := context.Background()

	require.NoError(t, Or(missing, ok).Verify(ctx, nil))
	require.NoError(t, Or(ok, invalid).Verify(ctx, nil))
	require.ErrorIs(t, Or(missing, invalid).Verify(ctx, nil), ErrInvalid)

	require.NoError(t, And(ok, ok).Verify(ctx, nil))
	require.ErrorIs(t, And(ok, missing).Verify(ctx, nil), ErrMissing)
	require.ErrorIs(t, And(missing, invalid).Verify(ctx, nil), ErrInvalid)

	require.Nil(t, Any())
	require.ErrorIs(t, All(ok, ok, missing).Verify(ctx, nil), ErrMissing)
}
