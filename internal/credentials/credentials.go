// Package credentials implements the NXRM2-side credential extractor (C1):
// decoding the client's Basic or Bearer Authorization header, fingerprinting
// it for session ownership checks, and forwarding the raw pair to the Portal.
package credentials

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Pair is the decoded (user, token) credential forwarded to the Portal.
type Pair struct {
	User  string
	Token string
}

// ErrMalformedHeader is returned when the Authorization header cannot be
// decoded into a usable credential pair.
var ErrMalformedHeader = fmt.Errorf("malformed Authorization header")

const (
	basicPrefix  = "Basic "
	bearerPrefix = "Bearer "
)

// ExtractBasic decodes an `Authorization: Basic <base64(user:token)>` header
// into a Pair. The pair is never validated locally — only forwarded.
func ExtractBasic(header string) (Pair, error) {
	if header == "" {
		return Pair{}, ErrMalformedHeader
	}
	if !strings.HasPrefix(header, basicPrefix) {
		return Pair{}, ErrMalformedHeader
	}
	encoded := strings.TrimPrefix(header, basicPrefix)

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Pair{}, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}

	user, token, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return Pair{}, ErrMalformedHeader
	}

	return Pair{User: user, Token: token}, nil
}

// IsBearer reports whether header carries a Bearer-scheme token rather than
// Basic credentials.
func IsBearer(header string) bool {
	return strings.HasPrefix(header, bearerPrefix)
}

// BearerToken strips the "Bearer " prefix from header.
func BearerToken(header string) (string, error) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", ErrMalformedHeader
	}
	return strings.TrimPrefix(header, bearerPrefix), nil
}

// Fingerprinter produces a keyed hash of a credential pair. The key is
// held only in memory for the process lifetime (the registry itself is
// not persistent, per spec.md section 4.8), so a restart invalidates every
// previously issued fingerprint along with every session.
//
// A keyed hash, rather than a randomly-salted one, is required here: the
// staging registry's secondary index is keyed by (profile, fingerprint),
// which only works if the same credential pair always produces the same
// fingerprint. bcrypt's per-call random salt would satisfy the "never
// recover the raw pair" requirement but defeats that index.
type Fingerprinter struct {
	key []byte
}

// NewFingerprinter generates a random process-lifetime key.
func NewFingerprinter() (*Fingerprinter, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate fingerprint key: %w", err)
	}
	return &Fingerprinter{key: key}, nil
}

// Fingerprint produces a keyed hash of the credential pair suitable for
// long-lived storage on a StagingSession and as a registry index key. The
// raw pair is never persisted.
func (f *Fingerprinter) Fingerprint(pair Pair) string {
	mac := hmac.New(sha256.New, f.key)
	mac.Write([]byte(pair.User + ":" + pair.Token))
	return hex.EncodeToString(mac.Sum(nil))
}

// Matches reports whether pair hashes to fingerprint using a
// constant-time comparison.
func (f *Fingerprinter) Matches(fingerprint string, pair Pair) bool {
	expected := f.Fingerprint(pair)
	return hmac.Equal([]byte(expected), []byte(fingerprint))
}
