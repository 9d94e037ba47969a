// Package auth implements the pluggable authentication strategies a
// connection negotiates over TDS: traditional SQL Server username/
// password, Azure AD federated authentication (FEDAUTH) with several
// token-acquisition backends, and manually supplied bearer tokens.
package auth

import (
	"context"
	"time"
)

// PreloginOptions is what a Strategy contributes to the PRELOGIN request.
type PreloginOptions struct {
	UseEncrypt     bool
	RequestFedAuth bool
	SNIHostname    string
}

// Login7Options is what a Strategy contributes to the LOGIN7 request.
type Login7Options struct {
	Database          string
	Username          string
	Password          string
	AppName           string
	IncludeFedAuthExt bool
}

// FedAuthInfo carries the STS URL and resource SPN from a FEDAUTHINFO
// token, passed to FedAuthToken once the server asks for a token.
type FedAuthInfo struct {
	STSURL string
	SPN    string
}

// Strategy is the interface every authentication method implements. It
// mirrors the shape of the connection handshake exactly: prelogin options,
// login7 options, and (for FEDAUTH strategies) token acquisition/refresh.
type Strategy interface {
	// Name identifies the strategy for logging.
	Name() string

	// RequiresFedAuth reports whether this strategy authenticates via
	// Azure AD FEDAUTH rather than inline SQL auth credentials.
	RequiresFedAuth() bool

	PreloginOptions() PreloginOptions
	Login7Options() Login7Options

	// FedAuthToken acquires a bearer token for info. Only called when
	// RequiresFedAuth returns true, after the server's FEDAUTHINFO token
	// names the STS URL and resource SPN to request it for.
	FedAuthToken(ctx context.Context, info FedAuthInfo) (string, error)

	// InvalidateToken discards any cached token, forcing reacquisition on
	// the next FedAuthToken call. Used after an auth failure to retry.
	InvalidateToken()

	// TokenExpired reports whether a cached token needs refreshing before
	// it can be reused on a new connection attempt.
	TokenExpired() bool
}

// tokenRefreshMargin mirrors the 5-minute margin Azure AD clients use
// before a token's reported expiry to avoid racing token expiration
// against an in-flight request.
const tokenRefreshMargin = 5 * time.Minute
