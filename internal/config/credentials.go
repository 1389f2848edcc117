package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/jobdam/agentdesk/internal/fileutil"
)

// ErrNoCredential is returned when none of the configured credential keys
// hold a token.
var ErrNoCredential = errors.New("no credential found")

// Credentials is the content of credentials.json: a flat map of named
// tokens dropped there by the platform's web login.
type Credentials map[string]string

// LoadCredentials reads the credentials file. A missing file is not an
// error: the broker connection is then attempted unauthenticated and the
// server decides what to reject.
func LoadCredentials(path string) (Credentials, error) {
	var creds Credentials
	if err := fileutil.ReadJSON(path, &creds); err != nil {
		if os.IsNotExist(err) {
			return Credentials{}, nil
		}
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	if creds == nil {
		creds = Credentials{}
	}
	return creds, nil
}

// Token returns the first non-empty token found probing keys in order.
func (c Credentials) Token(keys []string) (string, error) {
	for _, key := range keys {
		if tok := strings.TrimSpace(c[key]); tok != "" {
			return tok, nil
		}
	}
	return "", ErrNoCredential
}

// tokenSignatureAlgorithms lists the signature algorithms the platform is
// known to issue tokens with. Parsing rejects anything else.
var tokenSignatureAlgorithms = []jose.SignatureAlgorithm{
	jose.HS256, jose.HS512, jose.RS256, jose.ES256,
}

// TokenExpiry extracts the expiry claim from a JWT bearer token without
// verifying its signature. Verification is the server's job; the console
// only uses the claim to warn before attempting a doomed connection.
// Returns a zero time if the token is not a JWT or carries no expiry.
func TokenExpiry(token string) time.Time {
	parsed, err := jwt.ParseSigned(token, tokenSignatureAlgorithms)
	if err != nil {
		return time.Time{}
	}
	var claims jwt.Claims
	if err := parsed.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return time.Time{}
	}
	if claims.Expiry == nil {
		return time.Time{}
	}
	return claims.Expiry.Time()
}

// TokenExpired reports whether the token carries an expiry claim that has
// already passed. Opaque (non-JWT) tokens are never reported as expired.
func TokenExpired(token string, now time.Time) bool {
	exp := TokenExpiry(token)
	return !exp.IsZero() && exp.Before(now)
}
