package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrInvalidToken indicates the token failed signature checks or had malformed structure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken signals that the token's expiry is in the past.
	ErrExpiredToken = errors.New("token expired")
	// ErrMissingToken is returned when a request carries no operator token.
	ErrMissingToken = errors.New("missing operator token")
)

// TokenQueryParam and TokenHeader are where gunnery clients present their token.
const (
	TokenQueryParam = "auth_token"
	TokenHeader     = "X-Auth-Token"
)

// Claims is the payload of an operator token.
type Claims struct {
	Subject   string
	Audience  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Verifier checks HS256-signed compact tokens issued to gunnery operators.
type Verifier struct {
	secret   []byte
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// VerifierOption customises a Verifier.
type VerifierOption func(*Verifier)

// WithAudience rejects tokens minted for another audience, e.g. a different mount.
func WithAudience(audience string) VerifierOption {
	return func(v *Verifier) { v.audience = strings.TrimSpace(audience) }
}

// WithLeeway tolerates clock skew when checking expiry.
func WithLeeway(leeway time.Duration) VerifierOption {
	return func(v *Verifier) {
		if leeway > 0 {
			v.leeway = leeway
		}
	}
}

// WithClock overrides the verifier clock.
func WithClock(clock func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if clock != nil {
			v.now = clock
		}
	}
}

// NewVerifier constructs a verifier for the shared secret.
func NewVerifier(secret string, opts ...VerifierOption) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("hmac secret must not be empty")
	}
	v := &Verifier{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// Sign mints a token for subject valid for ttl. Operator tooling and tests use it.
func (v *Verifier) Sign(subject string, ttl time.Duration) (string, error) {
	if v == nil {
		return "", errors.New("verifier not initialised")
	}
	now := v.now()
	payload, err := json.Marshal(struct {
		Subject  string `json:"sub"`
		Expires  int64  `json:"exp"`
		Issued   int64  `json:"iat"`
		Audience string `json:"aud,omitempty"`
	}{Subject: subject, Expires: now.Add(ttl).Unix(), Issued: now.Unix(), Audience: v.audience})
	if err != nil {
		return "", err
	}
	signingInput := encodeSegment([]byte(`{"alg":"HS256","typ":"JWT"}`)) + "." + encodeSegment(payload)
	return signingInput + "." + encodeSegment(v.sign([]byte(signingInput))), nil
}

// Verify parses the token and validates signature, audience and expiry.
func (v *Verifier) Verify(token string) (*Claims, error) {
	if v == nil || len(v.secret) == 0 {
		return nil, errors.New("verifier not initialised")
	}
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}

	//1.- Only HS256 is accepted; the header is checked before any signature work.
	var header struct {
		Algorithm string `json:"alg"`
	}
	if err := decodeJSONSegment(parts[0], &header); err != nil {
		return nil, ErrInvalidToken
	}
	if header.Algorithm != "HS256" {
		return nil, fmt.Errorf("%w: unexpected algorithm %q", ErrInvalidToken, header.Algorithm)
	}
	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || !hmac.Equal(signature, v.sign([]byte(parts[0]+"."+parts[1]))) {
		return nil, ErrInvalidToken
	}

	//2.- Claims are trusted only after the signature matched.
	var payload struct {
		Subject  string `json:"sub"`
		Expires  int64  `json:"exp"`
		Issued   int64  `json:"iat"`
		Audience string `json:"aud"`
	}
	if err := decodeJSONSegment(parts[1], &payload); err != nil {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(payload.Subject) == "" || payload.Expires <= 0 {
		return nil, ErrInvalidToken
	}
	if v.audience != "" && payload.Audience != v.audience {
		return nil, fmt.Errorf("%w: audience %q", ErrInvalidToken, payload.Audience)
	}
	expiresAt := time.Unix(payload.Expires, 0)
	if expiresAt.Add(v.leeway).Before(v.now()) {
		return nil, ErrExpiredToken
	}
	return &Claims{
		Subject:   payload.Subject,
		Audience:  payload.Audience,
		IssuedAt:  time.Unix(payload.Issued, 0),
		ExpiresAt: expiresAt,
	}, nil
}

// Authenticate verifies the token carried by r and returns the operator name.
func (v *Verifier) Authenticate(r *http.Request) (string, error) {
	token := strings.TrimSpace(r.URL.Query().Get(TokenQueryParam))
	if token == "" {
		token = strings.TrimSpace(r.Header.Get(TokenHeader))
	}
	if token == "" {
		return "", ErrMissingToken
	}
	claims, err := v.Verify(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (v *Verifier) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return mac.Sum(nil)
}

func encodeSegment(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeJSONSegment(segment string, dst any) error {
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
