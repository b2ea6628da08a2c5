// Package authn issues and validates the HS256 bearer tokens the HTTP
// surface and WS fanout use to identify a caller (hand-rolled JWT, no
// third-party JWT library in the dependency set — see DESIGN.md).
package authn

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Claims identifies the operator a token was issued to and their role.
// Role is a closed set checked by the HTTP surface's authorization
// layer, not by this package.
type Claims struct {
	Subject   string `json:"sub"`
	Role      string `json:"role"`
	Issuer    string `json:"iss"`
	Audience  string `json:"aud"`
	ExpiresAt int64  `json:"exp"`
	IssuedAt  int64  `json:"iat"`
}

const (
	issuer   = "fleetctl"
	audience = "fleetctl-api"
)

// Issuer signs and validates tokens against a single shared secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// New returns an Issuer. A secret shorter than 32 bytes is a
// misconfiguration the caller (main.go) must refuse to start on.
func New(secret string, ttl time.Duration) (*Issuer, error) {
	if len(secret) < 32 {
		return nil, errors.New("jwt secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl}, nil
}

func (i *Issuer) IssueToken(subject, role string) (string, error) {
	now := time.Now().Unix()
	claims := Claims{
		Subject:   subject,
		Role:      role,
		Issuer:    issuer,
		Audience:  audience,
		ExpiresAt: now + int64(i.ttl.Seconds()),
		IssuedAt:  now,
	}
	header := map[string]string{"alg": "HS256", "typ": "JWT"}
	headerJSON, _ := json.Marshal(header)
	claimsJSON, _ := json.Marshal(claims)

	signingInput := base64URLEncode(headerJSON) + "." + base64URLEncode(claimsJSON)
	signature := i.sign(signingInput)
	return signingInput + "." + signature, nil
}

func (i *Issuer) ValidateToken(token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, errors.New("malformed token")
	}
	signingInput := parts[0] + "." + parts[1]
	if i.sign(signingInput) != parts[2] {
		return nil, errors.New("invalid signature")
	}
	claimsJSON, err := base64URLDecode(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}
	var claims Claims
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return nil, fmt.Errorf("unmarshal claims: %w", err)
	}
	if time.Now().Unix() > claims.ExpiresAt {
		return nil, errors.New("token expired")
	}
	if claims.Issuer != issuer || claims.Audience != audience {
		return nil, errors.New("invalid issuer or audience")
	}
	return &claims, nil
}

func (i *Issuer) sign(input string) string {
	h := hmac.New(sha256.New, i.secret)
	h.Write([]byte(input))
	return base64URLEncode(h.Sum(nil))
}

func base64URLEncode(data []byte) string {
	return strings.TrimRight(base64.URLEncoding.EncodeToString(data), "=")
}

func base64URLDecode(data string) ([]byte, error) {
	if rem := len(data) % 4; rem > 0 {
		data += strings.Repeat("=", 4-rem)
	}
	return base64.URLEncoding.DecodeString(data)
}
