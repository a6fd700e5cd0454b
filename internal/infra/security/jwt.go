package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenInvalid indicates a malformed token or a failed signature check.
	ErrTokenInvalid = errors.New("jwt: invalid token")
	// ErrTokenExpired indicates the token is past its expiry.
	ErrTokenExpired = errors.New("jwt: token expired")
)

// AccessTokenClaims are the claims portal access tokens carry.
type AccessTokenClaims struct {
	UserID string `json:"uid"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// VerifierOptions configures a TokenVerifier. At least one of Keys or HMACSecret is required.
type VerifierOptions struct {
	Keys       KeyProvider
	HMACSecret []byte
	Issuer     string
	Audience   string
	Leeway     time.Duration
	Now        func() time.Time
}

// TokenVerifier validates bearer tokens issued by the portal identity provider.
type TokenVerifier struct {
	keys       KeyProvider
	hmacSecret []byte
	parser     *jwt.Parser
}

// NewTokenVerifier constructs a verifier accepting RS256 tokens signed by Keys and,
// when a secret is configured, HS256 tokens.
func NewTokenVerifier(opts VerifierOptions) (*TokenVerifier, error) {
	if opts.Keys == nil && len(opts.HMACSecret) == 0 {
		return nil, fmt.Errorf("jwt: no verification keys configured")
	}

	methods := make([]string, 0, 2)
	if opts.Keys != nil {
		methods = append(methods, jwt.SigningMethodRS256.Alg())
	}
	if len(opts.HMACSecret) > 0 {
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(opts.Leeway),
	}
	if issuer := strings.TrimSpace(opts.Issuer); issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(issuer))
	}
	if audience := strings.TrimSpace(opts.Audience); audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(audience))
	}
	if opts.Now != nil {
		parserOpts = append(parserOpts, jwt.WithTimeFunc(opts.Now))
	}

	return &TokenVerifier{
		keys:       opts.Keys,
		hmacSecret: opts.HMACSecret,
		parser:     jwt.NewParser(parserOpts...),
	}, nil
}

// Verify parses token and returns its claims. The user id falls back to the subject.
func (v *TokenVerifier) Verify(token string) (*AccessTokenClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenInvalid
	}

	claims := &AccessTokenClaims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, v.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if parsed == nil || !parsed.Valid {
		return nil, ErrTokenInvalid
	}

	if strings.TrimSpace(claims.UserID) == "" {
		claims.UserID = strings.TrimSpace(claims.Subject)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrTokenInvalid)
	}

	return claims, nil
}

func (v *TokenVerifier) keyFunc(t *jwt.Token) (any, error) {
	switch t.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if len(v.hmacSecret) == 0 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.hmacSecret, nil
	case *jwt.SigningMethodRSA:
		if v.keys == nil {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		kid, ok := t.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("kid header not found")
		}
		return v.keys.GetVerificationKey(kid)
	default:
		return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
	}
}

// SignHS256 signs claims with a shared secret. Used by local tooling and tests.
func SignHS256(secret []byte, claims *AccessTokenClaims) (string, error) {
	if claims == nil {
		return "", fmt.Errorf("jwt: access token claims required")
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("jwt: sign token: %w", err)
	}
	return signed, nil
}
