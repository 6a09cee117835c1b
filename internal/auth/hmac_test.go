package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var fixedNow = time.Unix(1700000000, 0)

func newTestVerifier(t *testing.T, opts ...VerifierOption) *Verifier {
	t.Helper()
	verifier, err := NewVerifier("secret", append([]VerifierOption{WithClock(func() time.Time { return fixedNow })}, opts...)...)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return verifier
}

func TestVerifierAcceptsSignedToken(t *testing.T) {
	verifier := newTestVerifier(t, WithAudience("north"))
	token, err := verifier.Sign("gunner-7", time.Minute)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	claims, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if claims.Subject != "gunner-7" || claims.Audience != "north" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifierRejectsExpiredToken(t *testing.T) {
	verifier := newTestVerifier(t)
	token, err := verifier.Sign("gunner-7", -time.Second)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := verifier.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
	lenient := newTestVerifier(t, WithLeeway(5*time.Second))
	if _, err := lenient.Verify(token); err != nil {
		t.Fatalf("expected leeway to cover skew, got %v", err)
	}
}

func TestVerifierRejectsForeignSignatureAndAudience(t *testing.T) {
	verifier := newTestVerifier(t, WithAudience("north"))
	forged := makeToken(t, "other-secret", `{"sub":"gunner-7","exp":1700000060,"aud":"north"}`)
	if _, err := verifier.Verify(forged); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for bad signature, got %v", err)
	}
	southern := makeToken(t, "secret", `{"sub":"gunner-7","exp":1700000060,"aud":"south"}`)
	if _, err := verifier.Verify(southern); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign audience, got %v", err)
	}
}

func TestAuthenticateReadsQueryOrHeader(t *testing.T) {
	verifier := newTestVerifier(t)
	token, err := verifier.Sign("gunner-7", time.Minute)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	byQuery := httptest.NewRequest(http.MethodGet, "/ws?"+TokenQueryParam+"="+token, nil)
	if subject, err := verifier.Authenticate(byQuery); err != nil || subject != "gunner-7" {
		t.Fatalf("query token: subject %q err %v", subject, err)
	}
	byHeader := httptest.NewRequest(http.MethodGet, "/ws", nil)
	byHeader.Header.Set(TokenHeader, token)
	if subject, err := verifier.Authenticate(byHeader); err != nil || subject != "gunner-7" {
		t.Fatalf("header token: subject %q err %v", subject, err)
	}
	if _, err := verifier.Authenticate(httptest.NewRequest(http.MethodGet, "/ws", nil)); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	if _, err := NewVerifier("  "); err == nil {
		t.Fatal("expected error for blank secret")
	}
}

func makeToken(t *testing.T, secret, payload string) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	signingInput := header + "." + base64.RawURLEncoding.EncodeToString([]byte(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signingInput))
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
