// Package auth issues and validates the bearer tokens that gate access
// to realtime subscriptions and notification management, adapted from
// the teacher's hand-rolled HMAC JWT (auth/jwt.go) with TenantID/Role
// generalized into an arbitrary permission list.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Claims is the signed payload: a principal ID plus the permission set
// wsm.Principal and dns.Subscription authorization checks consume.
type Claims struct {
	Subject     string   `json:"sub"`
	Permissions []string `json:"permissions"`
	Admin       bool     `json:"admin"`
	Issuer      string   `json:"iss"`
	Audience    string   `json:"aud"`
	ExpiresAt   int64    `json:"exp"`
	IssuedAt    int64    `json:"iat"`
}

const (
	issuer   = "racepulse"
	audience = "racepulse-realtime"
)

var secret []byte

func init() {
	secretEnv := os.Getenv("JWT_SECRET")
	if len(secretEnv) < 32 {
		if secretEnv == "" {
			fmt.Println("WARNING: JWT_SECRET not set. Using an insecure default for local dev only.")
			secret = []byte("insecure_default_secret_for_dev_mode_only_32b")
		} else {
			panic("JWT_SECRET must be at least 32 characters long")
		}
	} else {
		secret = []byte(secretEnv)
	}
}

// GenerateToken signs a token for subject carrying the given permissions.
func GenerateToken(subject string, permissions []string, admin bool, ttl time.Duration) (string, error) {
	now := time.Now().Unix()
	claims := Claims{
		Subject:     subject,
		Permissions: permissions,
		Admin:       admin,
		Issuer:      issuer,
		Audience:    audience,
		ExpiresAt:   now + int64(ttl.Seconds()),
		IssuedAt:    now,
	}

	header := map[string]string{"alg": "HS256", "typ": "JWT"}
	headerJSON, _ := json.Marshal(header)
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	tokenPart := base64UrlEncode(headerJSON) + "." + base64UrlEncode(claimsJSON)
	return tokenPart + "." + computeHMAC(tokenPart), nil
}

// ValidateToken parses and verifies a bearer token, rejecting anything
// expired, mis-issued, or with a bad signature.
func ValidateToken(tokenString string) (*Claims, error) {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return nil, errors.New("auth: invalid token format")
	}

	tokenPart := parts[0] + "." + parts[1]
	if computeHMAC(tokenPart) != parts[2] {
		return nil, errors.New("auth: invalid signature")
	}

	claimsJSON, err := base64UrlDecode(parts[1])
	if err != nil {
		return nil, fmt.Errorf("auth: decode claims: %w", err)
	}
	var claims Claims
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return nil, fmt.Errorf("auth: unmarshal claims: %w", err)
	}

	now := time.Now().Unix()
	if now > claims.ExpiresAt {
		return nil, errors.New("auth: token expired")
	}
	if claims.Issuer != issuer || claims.Audience != audience {
		return nil, errors.New("auth: unrecognized issuer or audience")
	}
	return &claims, nil
}

func computeHMAC(message string) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(message))
	return base64UrlEncode(h.Sum(nil))
}

func base64UrlEncode(data []byte) string {
	return strings.TrimRight(base64.URLEncoding.EncodeToString(data), "=")
}

func base64UrlDecode(data string) ([]byte, error) {
	if l := len(data) % 4; l > 0 {
		data += strings.Repeat("=", 4-l)
	}
	return base64.URLEncoding.DecodeString(data)
}
