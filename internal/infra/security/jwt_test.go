package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newClaims(userID string, now time.Time, ttl time.Duration) *AccessTokenClaims {
	return &AccessTokenClaims{
		UserID: userID,
		Role:   "candidate",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "portal-auth",
			Audience:  jwt.ClaimStrings{"portal"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

func TestTokenVerifierHS256(t *testing.T) {
	secret := []byte("test-secret")
	now := time.Now()

	verifier, err := NewTokenVerifier(VerifierOptions{HMACSecret: secret, Issuer: "portal-auth", Audience: "portal"})
	if err != nil {
		t.Fatalf("NewTokenVerifier: %v", err)
	}

	token, err := SignHS256(secret, newClaims("user-1", now, time.Minute))
	if err != nil {
		t.Fatalf("SignHS256: %v", err)
	}

	claims, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.Role != "candidate" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestTokenVerifierRejectsExpiredToken(t *testing.T) {
	secret := []byte("test-secret")
	verifier, err := NewTokenVerifier(VerifierOptions{HMACSecret: secret})
	if err != nil {
		t.Fatalf("NewTokenVerifier: %v", err)
	}

	token, err := SignHS256(secret, newClaims("user-1", time.Now().Add(-time.Hour), time.Minute))
	if err != nil {
		t.Fatalf("SignHS256: %v", err)
	}

	if _, err := verifier.Verify(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestTokenVerifierRejectsWrongSecretAndAudience(t *testing.T) {
	verifier, err := NewTokenVerifier(VerifierOptions{HMACSecret: []byte("right"), Audience: "portal"})
	if err != nil {
		t.Fatalf("NewTokenVerifier: %v", err)
	}

	wrongSecret, _ := SignHS256([]byte("wrong"), newClaims("user-1", time.Now(), time.Minute))
	if _, err := verifier.Verify(wrongSecret); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for wrong secret, got %v", err)
	}

	claims := newClaims("user-1", time.Now(), time.Minute)
	claims.Audience = jwt.ClaimStrings{"elsewhere"}
	wrongAudience, _ := SignHS256([]byte("right"), claims)
	if _, err := verifier.Verify(wrongAudience); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for wrong audience, got %v", err)
	}

	if _, err := verifier.Verify("   "); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for empty token, got %v", err)
	}
}

func TestTokenVerifierFallsBackToSubject(t *testing.T) {
	secret := []byte("test-secret")
	verifier, _ := NewTokenVerifier(VerifierOptions{HMACSecret: secret})

	claims := newClaims("", time.Now(), time.Minute)
	claims.Subject = "user-9"
	token, _ := SignHS256(secret, claims)

	parsed, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if parsed.UserID != "user-9" {
		t.Fatalf("expected subject fallback, got %q", parsed.UserID)
	}
}

func TestTokenVerifierRS256FromKeyDirectory(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	dir := t.TempDir()
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(&key.PublicKey)})
	if err := os.WriteFile(filepath.Join(dir, "k1.pem"), pemBytes, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	provider, err := NewDirKeyProvider(dir)
	if err != nil {
		t.Fatalf("NewDirKeyProvider: %v", err)
	}
	verifier, err := NewTokenVerifier(VerifierOptions{Keys: provider})
	if err != nil {
		t.Fatalf("NewTokenVerifier: %v", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, newClaims("user-2", time.Now(), time.Minute))
	token.Header["kid"] = "k1"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	claims, err := verifier.Verify(signed)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != "user-2" {
		t.Fatalf("unexpected user id %q", claims.UserID)
	}

	token.Header["kid"] = "unknown"
	unknown, _ := token.SignedString(key)
	if _, err := verifier.Verify(unknown); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for unknown kid, got %v", err)
	}
}

func TestTokenVerifierRequiresKeys(t *testing.T) {
	if _, err := NewTokenVerifier(VerifierOptions{}); err == nil {
		t.Fatal("expected error without keys")
	}
}
