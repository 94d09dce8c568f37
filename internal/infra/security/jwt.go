package security

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrKeyIDMissing indicates a token header carried no kid.
var ErrKeyIDMissing = errors.New("jwt: missing key identifier")

// TokenClaims is the claim set shared by access and refresh tokens.
type TokenClaims struct {
	Role string `json:"role,omitempty"`
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// JWTManager signs and verifies RS256 tokens for a fixed issuer and audience.
type JWTManager struct {
	keys     KeyProvider
	issuer   string
	audience string
	now      func() time.Time
}

// NewJWTManager builds a manager over the provided keys.
func NewJWTManager(keys KeyProvider, issuer, audience string) *JWTManager {
	return &JWTManager{
		keys:     keys,
		issuer:   strings.TrimSpace(issuer),
		audience: strings.TrimSpace(audience),
		now:      time.Now,
	}
}

// WithClock overrides the time source used for expiry checks.
func (m *JWTManager) WithClock(now func() time.Time) *JWTManager {
	if now != nil {
		m.now = now
	}
	return m
}

func (m *JWTManager) Issuer() string   { return m.issuer }
func (m *JWTManager) Audience() string { return m.audience }

// Sign stamps issuer and audience onto claims and signs them with the active key.
func (m *JWTManager) Sign(claims *TokenClaims) (string, error) {
	if claims == nil {
		return "", fmt.Errorf("jwt: claims required")
	}
	if m.keys == nil {
		return "", fmt.Errorf("jwt: key provider not configured")
	}

	kid, key, err := m.keys.SigningKey()
	if err != nil {
		return "", fmt.Errorf("jwt: get signing key: %w", err)
	}

	claims.Issuer = m.issuer
	if m.audience != "" {
		claims.Audience = jwt.ClaimStrings{m.audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid

	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("jwt: sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies signature, algorithm, issuer, audience and expiry.
func (m *JWTManager) Parse(raw string) (*TokenClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.audience != "" {
		options = append(options, jwt.WithAudience(m.audience))
	}

	claims := &TokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, m.keyFunc, options...)
	if err != nil {
		return nil, fmt.Errorf("jwt: parse token: %w", err)
	}
	return claims, nil
}

func (m *JWTManager) keyFunc(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	if strings.TrimSpace(kid) == "" {
		return nil, ErrKeyIDMissing
	}
	return m.keys.VerificationKey(kid)
}

// JWKS renders the public verification keys as a JSON Web Key Set.
func (m *JWTManager) JWKS() ([]byte, error) {
	keys := m.keys.VerificationKeys()

	kids := make([]string, 0, len(keys))
	for kid := range keys {
		kids = append(kids, kid)
	}
	sort.Strings(kids)

	set := make([]map[string]string, 0, len(kids))
	for _, kid := range kids {
		if keys[kid] == nil {
			continue
		}
		set = append(set, buildJWK(kid, keys[kid]))
	}

	return json.Marshal(map[string]any{"keys": set})
}

func buildJWK(kid string, key *rsa.PublicKey) map[string]string {
	return map[string]string{
		"kty": "RSA",
		"use": "sig",
		"alg": "RS256",
		"kid": kid,
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}
