package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ha1tch/mssqlengine/pkg/log"
)

// ManualToken authenticates with a bearer token the caller already holds
// (e.g. minted by an external identity broker), skipping any acquisition
// flow entirely. The token's exp/aud claims are parsed for diagnostics
// and TokenExpired, but never re-validated against a signing key — this
// client trusts the server to reject a bad token, not the other way
// around.
type ManualToken struct {
	Database string
	Token    string

	claims *jwt.RegisteredClaims
}

func (m *ManualToken) Name() string          { return "ManualFedAuth" }
func (m *ManualToken) RequiresFedAuth() bool { return true }

func (m *ManualToken) PreloginOptions() PreloginOptions {
	return PreloginOptions{UseEncrypt: true, RequestFedAuth: true}
}

func (m *ManualToken) Login7Options() Login7Options {
	return Login7Options{Database: m.Database, AppName: "mssqlengine", IncludeFedAuthExt: true}
}

func (m *ManualToken) FedAuthToken(ctx context.Context, info FedAuthInfo) (string, error) {
	if m.Token == "" {
		return "", fmt.Errorf("auth: ManualFedAuth has no token configured")
	}
	if m.claims == nil {
		m.parseClaims()
	}
	if m.claims != nil && m.claims.ExpiresAt != nil && time.Now().After(m.claims.ExpiresAt.Time) {
		return "", fmt.Errorf("auth: manually supplied token expired at %s", m.claims.ExpiresAt.Time)
	}
	if m.claims != nil && info.SPN != "" && len(m.claims.Audience) > 0 {
		matched := false
		for _, aud := range m.claims.Audience {
			matched = matched || aud == info.SPN
		}
		if !matched {
			// Advisory only: the token is still sent and the server decides.
			log.Default().Auth().Warn("manual token audience does not match server SPN",
				"aud", []string(m.claims.Audience), "spn", info.SPN)
		}
	}
	return m.Token, nil
}

func (m *ManualToken) InvalidateToken() {
	// Nothing to invalidate: the caller owns this token's lifecycle and
	// must supply a fresh one by constructing a new ManualToken.
}

func (m *ManualToken) TokenExpired() bool {
	if m.claims == nil {
		m.parseClaims()
	}
	if m.claims == nil || m.claims.ExpiresAt == nil {
		return false
	}
	return time.Now().After(m.claims.ExpiresAt.Time.Add(-tokenRefreshMargin))
}

// parseClaims decodes the JWT's registered claims without verifying its
// signature; this is advisory only (expiry/audience surfaced for logging
// and TokenExpired), never a trust boundary.
func (m *ManualToken) parseClaims() {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	var claims jwt.RegisteredClaims
	_, _, err := parser.ParseUnverified(m.Token, &claims)
	if err != nil {
		return
	}
	m.claims = &claims
}
