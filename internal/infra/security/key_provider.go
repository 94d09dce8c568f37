package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	ErrKeyNotFound      = errors.New("key not found")
	ErrNoSigningKey     = errors.New("no private key found for signing")
	ephemeralKeyBits    = 2048
	ephemeralSigningKID = "ephemeral"
)

// KeyProvider supplies the active signing key and any verification keys by kid.
type KeyProvider interface {
	SigningKey() (kid string, key *rsa.PrivateKey, err error)
	VerificationKey(kid string) (*rsa.PublicKey, error)
	VerificationKeys() map[string]*rsa.PublicKey
}

// DirectoryKeyProvider loads PEM keys from a directory. The kid is the file name
// without extension; the lexically first private key signs.
type DirectoryKeyProvider struct {
	keys       map[string]*rsa.PublicKey
	signingKID string
	signingKey *rsa.PrivateKey
}

// NewDirectoryKeyProvider parses every PEM file in keyDir.
func NewDirectoryKeyProvider(keyDir string) (*DirectoryKeyProvider, error) {
	files, err := os.ReadDir(keyDir)
	if err != nil {
		return nil, fmt.Errorf("read key directory: %w", err)
	}

	names := make([]string, 0, len(files))
	for _, file := range files {
		if !file.IsDir() {
			names = append(names, file.Name())
		}
	}
	sort.Strings(names)

	provider := &DirectoryKeyProvider{keys: make(map[string]*rsa.PublicKey)}
	for _, name := range names {
		path := filepath.Join(keyDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read key file %s: %w", path, err)
		}

		kid := strings.TrimSuffix(name, filepath.Ext(name))
		private, public, err := parseRSAKey(data)
		if err != nil {
			return nil, fmt.Errorf("parse key file %s: %w", path, err)
		}
		if private != nil && provider.signingKey == nil {
			provider.signingKey = private
			provider.signingKID = kid
		}
		provider.keys[kid] = public
	}

	if provider.signingKey == nil {
		return nil, ErrNoSigningKey
	}
	return provider, nil
}

func parseRSAKey(data []byte) (*rsa.PrivateKey, *rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, nil, errors.New("no PEM block")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, &key.PublicKey, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return rsaKey, &rsaKey.PublicKey, nil
		}
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return nil, key, nil
	}
	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PublicKey); ok {
			return nil, rsaKey, nil
		}
	}
	return nil, nil, errors.New("unsupported key format")
}

func (p *DirectoryKeyProvider) SigningKey() (string, *rsa.PrivateKey, error) {
	return p.signingKID, p.signingKey, nil
}

func (p *DirectoryKeyProvider) VerificationKey(kid string) (*rsa.PublicKey, error) {
	key, ok := p.keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}
	return key, nil
}

func (p *DirectoryKeyProvider) VerificationKeys() map[string]*rsa.PublicKey {
	out := make(map[string]*rsa.PublicKey, len(p.keys))
	for kid, key := range p.keys {
		out[kid] = key
	}
	return out
}

// StaticKeyProvider serves a single in-memory key pair.
type StaticKeyProvider struct {
	kid string
	key *rsa.PrivateKey
}

// NewStaticKeyProvider wraps an existing key.
func NewStaticKeyProvider(kid string, key *rsa.PrivateKey) *StaticKeyProvider {
	return &StaticKeyProvider{kid: kid, key: key}
}

// NewEphemeralKeyProvider generates a throwaway key; tokens do not survive a restart.
func NewEphemeralKeyProvider() (*StaticKeyProvider, error) {
	key, err := rsa.GenerateKey(rand.Reader, ephemeralKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return NewStaticKeyProvider(ephemeralSigningKID, key), nil
}

func (p *StaticKeyProvider) SigningKey() (string, *rsa.PrivateKey, error) {
	if p.key == nil {
		return "", nil, ErrNoSigningKey
	}
	return p.kid, p.key, nil
}

func (p *StaticKeyProvider) VerificationKey(kid string) (*rsa.PublicKey, error) {
	if p.key == nil || kid != p.kid {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}
	return &p.key.PublicKey, nil
}

func (p *StaticKeyProvider) VerificationKeys() map[string]*rsa.PublicKey {
	if p.key == nil {
		return map[string]*rsa.PublicKey{}
	}
	return map[string]*rsa.PublicKey{p.kid: &p.key.PublicKey}
}

// NewKeyProvider loads keys from keyDir. Outside production a missing directory
// falls back to an ephemeral key so local runs need no setup.
func NewKeyProvider(production bool, keyDir string) (KeyProvider, bool, error) {
	provider, err := NewDirectoryKeyProvider(keyDir)
	if err == nil {
		return provider, false, nil
	}
	if production || !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}

	ephemeral, genErr := NewEphemeralKeyProvider()
	if genErr != nil {
		return nil, false, genErr
	}
	return ephemeral, true, nil
}
