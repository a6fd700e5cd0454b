package security

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrKeyNotFound indicates no verification key is registered for a kid.
var ErrKeyNotFound = errors.New("key not found")

// KeyProvider resolves RSA verification keys by key id.
type KeyProvider interface {
	GetVerificationKey(kid string) (*rsa.PublicKey, error)
}

// StaticKeyProvider serves a fixed set of public keys.
type StaticKeyProvider struct {
	keys map[string]*rsa.PublicKey
}

// NewStaticKeyProvider wraps the supplied keys.
func NewStaticKeyProvider(keys map[string]*rsa.PublicKey) *StaticKeyProvider {
	copied := make(map[string]*rsa.PublicKey, len(keys))
	for kid, key := range keys {
		copied[strings.TrimSpace(kid)] = key
	}
	return &StaticKeyProvider{keys: copied}
}

// NewDirKeyProvider loads every PEM file in keyDir. The file name without extension is the kid.
// Private keys are accepted and reduced to their public half.
func NewDirKeyProvider(keyDir string) (*StaticKeyProvider, error) {
	files, err := os.ReadDir(keyDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read key directory: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey)
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		path := filepath.Join(keyDir, file.Name())
		keyData, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file %s: %w", path, err)
		}

		key, err := ParseRSAPublicKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("parse key file %s: %w", path, err)
		}

		kid := strings.TrimSuffix(file.Name(), filepath.Ext(file.Name()))
		keys[kid] = key
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("no verification keys found in %s", keyDir)
	}

	return &StaticKeyProvider{keys: keys}, nil
}

// GetVerificationKey returns the public key registered for kid.
func (p *StaticKeyProvider) GetVerificationKey(kid string) (*rsa.PublicKey, error) {
	key, ok := p.keys[strings.TrimSpace(kid)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}
	return key, nil
}

// ParseRSAPublicKey decodes a PEM block holding an RSA public or private key.
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PublicKey); ok {
			return rsaKey, nil
		}
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return &key.PublicKey, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return &rsaKey.PublicKey, nil
		}
	}

	return nil, errors.New("unsupported key format")
}
