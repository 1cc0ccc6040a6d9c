// Package identity verifies AuthBuddy bearer tokens: RS256 against a
// live-refreshed JWKS when one has been loaded, falling back to an HS256
// shared secret otherwise. The hand-rolled JWK-to-rsa.PublicKey parsing
// follows vortex-fintech-go-lib's jwks_verifier_test.go — nothing in the
// retrieval pack pulls in a third-party JWK library, so neither do we — and
// the token parse/verify step itself is golang-jwt/jwt/v5's usual
// Keyfunc-based ParseWithClaims idiom.
package identity

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the set of AuthBuddy JWT claims the verifier understands.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
	Role  string   `json:"role,omitempty"`
}

// Principal is the authenticated caller derived from a verified token.
type Principal struct {
	UserID string
	Roles  []string
}

// HasRole reports whether the principal carries the given role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func mergedRoles(c Claims) []string {
	seen := make(map[string]bool, len(c.Roles)+1)
	var out []string
	add := func(r string) {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			return
		}
		seen[r] = true
		out = append(out, r)
	}
	for _, r := range c.Roles {
		add(r)
	}
	for _, r := range strings.Split(c.Role, ",") {
		add(r)
	}
	return out
}

// JWK is one entry of a raw JWKS document, parsed field-by-field rather
// than through a JWK library.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
	Alg string `json:"alg"`
	Use string `json:"use"`
}

// JWKSDocument is the top-level JWKS shape: {"keys": [...]}.
type JWKSDocument struct {
	Keys []JWK `json:"keys"`
}

// ParseJWKS decodes a raw JWKS JSON document into a kid-keyed map of RSA
// public keys, skipping any non-RSA entries.
func ParseJWKS(raw []byte) (map[string]*rsa.PublicKey, error) {
	var doc JWKSDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse jwks document: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := jwkToRSAPublicKey(k)
		if err != nil {
			return nil, fmt.Errorf("jwk %s: %w", k.Kid, err)
		}
		keys[k.Kid] = pub
	}
	return keys, nil
}

func jwkToRSAPublicKey(k JWK) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode n: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode e: %w", err)
	}
	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// Verifier validates AuthBuddy bearer tokens. It holds the current JWKS
// key set (swapped atomically by a Refresher) and an optional HS256
// fallback secret.
type Verifier struct {
	mu       sync.RWMutex
	keys     map[string]*rsa.PublicKey
	secret   []byte
	issuer   string
	audience string
}

// NewVerifier constructs a Verifier with a fixed issuer/audience policy.
// Either may be empty, in which case that claim is not enforced.
func NewVerifier(secret []byte, issuer, audience string) *Verifier {
	return &Verifier{secret: secret, issuer: issuer, audience: audience}
}

// SetKeys atomically replaces the JWKS key set used for RS256 verification.
func (v *Verifier) SetKeys(keys map[string]*rsa.PublicKey) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.keys = keys
}

func (v *Verifier) hasKeys() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.keys) > 0
}

func (v *Verifier) keyByKid(kid string) (*rsa.PublicKey, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	k, ok := v.keys[kid]
	return k, ok
}

func (v *Verifier) keyFunc(token *jwt.Token) (interface{}, error) {
	if v.hasKeys() {
		if token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method %v, want RS256", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		key, ok := v.keyByKid(kid)
		if !ok {
			return nil, fmt.Errorf("no jwks key for kid %q", kid)
		}
		return key, nil
	}
	if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
		return nil, fmt.Errorf("unexpected signing method %v, want HS256", token.Header["alg"])
	}
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("no hs256 secret configured and no jwks loaded")
	}
	return v.secret, nil
}

// Verify parses and validates a bearer token string, returning the derived
// principal on success. Required claims: sub, exp (must be in the future).
// iss/aud are enforced only when the verifier was configured with them.
func (v *Verifier) Verify(tokenString string) (*Principal, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, v.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("token not valid")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token missing sub claim")
	}
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("token missing exp claim")
	}
	if claims.ExpiresAt.Time.Before(time.Now()) {
		return nil, fmt.Errorf("token expired at %s", claims.ExpiresAt.Time)
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return nil, fmt.Errorf("unexpected issuer %q", claims.Issuer)
	}
	if v.audience != "" && !audienceContains(claims.Audience, v.audience) {
		return nil, fmt.Errorf("token audience does not include %q", v.audience)
	}

	return &Principal{UserID: claims.Subject, Roles: mergedRoles(claims)}, nil
}

func audienceContains(audience jwt.ClaimStrings, want string) bool {
	for _, a := range audience {
		if a == want {
			return true
		}
	}
	return false
}
