package credentials

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the verified fields the optional bearer-token mode trusts in
// place of a decoded Basic pair. Mirrors the original source's
// UserServiceClaims (user_auth/src/jwt.rs) but verified with the teacher's
// JWT library instead of jwt_simple.
type Claims struct {
	UserID     string   `json:"user_id"`
	NameCode   string   `json:"name_code"`
	Namespaces []string `json:"namespaces"`
	jwt.RegisteredClaims
}

// BearerVerifier verifies RS256-signed bearer tokens against a configured
// public key.
type BearerVerifier struct {
	publicKey *rsa.PublicKey
}

// LoadBearerVerifier reads an RSA public key in PEM form from path.
func LoadBearerVerifier(path string) (*BearerVerifier, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read JWT public key: %w", err)
	}

	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block in %s", path)
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key in %s is not RSA", path)
	}

	return &BearerVerifier{publicKey: rsaKey}, nil
}

// Verify validates token and returns the Pair to use for Portal calls,
// built from the verified claims rather than a decoded Basic header.
func (v *BearerVerifier) Verify(token string) (Pair, []string, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.publicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithIssuer("user-service"), jwt.WithAudience("nxrm2-portal-proxy"), jwt.WithLeeway(5*time.Second))
	if err != nil {
		return Pair{}, nil, fmt.Errorf("failed to verify bearer token: %w", err)
	}
	if !parsed.Valid {
		return Pair{}, nil, fmt.Errorf("bearer token is not valid")
	}

	return Pair{User: claims.NameCode, Token: token}, claims.Namespaces, nil
}
