package guard

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/zoobzio/capitan"
)

// ErrInvalidToken is returned when a bearer token cannot be verified.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the JWT claims the provider reads. The subject is the user ID.
type Claims struct {
	Email string `json:"email,omitempty"`
	gojwt.RegisteredClaims
}

// JWTProvider authenticates requests carrying an HMAC-signed bearer token.
// It never reports loading: a request either carries a valid token or it
// does not.
type JWTProvider struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// JWTOption configures a JWTProvider.
type JWTOption func(*JWTProvider)

// WithIssuer requires tokens to carry iss equal to issuer, and stamps it on
// tokens created by Issue.
func WithIssuer(issuer string) JWTOption {
	return func(p *JWTProvider) {
		p.issuer = issuer
	}
}

// WithNow overrides the time source used to check and issue expiry.
func WithNow(now func() time.Time) JWTOption {
	return func(p *JWTProvider) {
		p.now = now
	}
}

// NewJWTProvider creates a provider verifying tokens with secret.
func NewJWTProvider(secret []byte, opts ...JWTOption) *JWTProvider {
	p := &JWTProvider{secret: secret, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AuthState implements Provider.
func (p *JWTProvider) AuthState(r *http.Request) AuthState {
	token, ok := bearer(r)
	if !ok {
		return AuthState{}
	}
	user, err := p.Verify(token)
	if err != nil {
		capitan.Emit(r.Context(), GuardTokenRejected,
			KeyError.Field(err.Error()),
		)
		return AuthState{}
	}
	return AuthState{User: user}
}

// Verify checks the token's signature and registered claims.
func (p *JWTProvider) Verify(token string) (*User, error) {
	opts := []gojwt.ParserOption{
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithTimeFunc(p.now),
		gojwt.WithExpirationRequired(),
	}
	if p.issuer != "" {
		opts = append(opts, gojwt.WithIssuer(p.issuer))
	}

	var claims Claims
	_, err := gojwt.ParseWithClaims(token, &claims, func(*gojwt.Token) (any, error) {
		return p.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return &User{ID: claims.Subject, Email: claims.Email}, nil
}

// Issue signs a token for u that expires after ttl.
func (p *JWTProvider) Issue(u User, ttl time.Duration) (string, error) {
	now := p.now()
	claims := Claims{
		Email: u.Email,
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    p.issuer,
			IssuedAt:  gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// bearer extracts the token from an "Authorization: Bearer <token>" header.
func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Ensure JWTProvider implements Provider.
var _ Provider = (*JWTProvider)(nil)
