package server

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://accounts.google.com"
	testAudience = "test-audience"
)

func setupOIDCTest(t *testing.T) (*rsa.PrivateKey, tokenVerifier) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&priv.PublicKey}}
	verifier := oidc.NewVerifier(testIssuer, keySet, &oidc.Config{ClientID: testAudience})
	return priv, verifier.Verify
}

func generateTestToken(t *testing.T, priv *rsa.PrivateKey, email, subject, audience string) string {
	t.Helper()
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: priv}, (&jose.SignerOptions{}).WithType("JWT"))
	require.NoError(t, err)

	claims, err := json.Marshal(map[string]any{
		"iss":   testIssuer,
		"aud":   audience,
		"sub":   subject,
		"email": email,
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	obj, err := signer.Sign(claims)
	require.NoError(t, err)
	token, err := obj.CompactSerialize()
	require.NoError(t, err)
	return token
}

func TestAuthMiddleware(t *testing.T) {
	priv, verifier := setupOIDCTest(t)
	adminToken := generateTestToken(t, priv, "admin@example.com", "admin1", testAudience)
	userToken := generateTestToken(t, priv, "user@example.com", "user1", testAudience)
	wrongAudience := generateTestToken(t, priv, "admin@example.com", "admin1", "other")

	env := newTestEnv(t)
	env.srv.bypassAuth = false
	env.srv.oidcAudience = testAudience
	env.srv.verifier = verifier
	env.srv.adminEmails = []string{"admin@example.com"}
	handler := env.srv.setupHandler()

	post := func(path string, mutate func(*http.Request)) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"option":"charge"}`))
		if mutate != nil {
			mutate(req)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	t.Run("Missing Token", func(t *testing.T) {
		rr := post("/api/entries/home/select", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Empty(t, env.client.sentModes())
	})

	t.Run("Invalid Header", func(t *testing.T) {
		rr := post("/api/entries/home/select", func(r *http.Request) {
			r.Header.Set("Authorization", "Basic abc")
		})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Wrong Audience", func(t *testing.T) {
		rr := post("/api/entries/home/select", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+wrongAudience)
		})
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("Not Admin", func(t *testing.T) {
		rr := post("/api/entries/home/select", func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: authTokenCookie, Value: userToken})
		})
		assert.Equal(t, http.StatusForbidden, rr.Code)

		var resp map[string]string
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, "forbidden", resp["error"])
	})

	t.Run("Admin Cookie", func(t *testing.T) {
		rr := post("/api/entries/home/select", func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: authTokenCookie, Value: adminToken})
		})
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("Admin Bearer", func(t *testing.T) {
		rr := post("/api/services/set_mode", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+adminToken)
		})
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("Reads Stay Open", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/entries", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestAuthenticateToken(t *testing.T) {
	priv, verifier := setupOIDCTest(t)
	srv := &Server{verifier: verifier}

	email, subject, err := srv.authenticateToken(context.Background(), generateTestToken(t, priv, "a@example.com", "sub1", testAudience))
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", email)
	assert.Equal(t, "sub1", subject)

	_, _, err = srv.authenticateToken(context.Background(), generateTestToken(t, priv, "", "sub1", testAudience))
	assert.Error(t, err, "tokens without an email are rejected")

	_, _, err = (&Server{}).authenticateToken(context.Background(), "x")
	assert.Error(t, err)
}
