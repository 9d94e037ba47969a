package auth

import (
	"context"
	"time"
)

// azureSQLScope is the OAuth2 scope/audience Azure AD tokens must carry to
// authenticate against Azure SQL Database and SQL Server FEDAUTH.
const azureSQLScope = "https://database.windows.net//.default"

// azureADBaseURL is the Azure AD v2 endpoint host used by every acquirer
// in this package.
const azureADBaseURL = "https://login.microsoftonline.com"

// TokenAcquirer obtains a fresh Azure AD access token for scope. Each
// acquirer implementation wraps one credential source (device code,
// service principal, az CLI, environment variables); FedAuth composes
// whichever one the caller selects with a TokenCache.
type TokenAcquirer interface {
	Acquire(ctx context.Context, scope string) (accessToken string, expiresAt time.Time, err error)
}

// FedAuth is the Azure AD authentication strategy: it requests FEDAUTH in
// PRELOGIN/LOGIN7 and, once the server replies with a FEDAUTHINFO token,
// supplies a bearer token obtained from Acquirer (through Cache, so
// repeated connection attempts reuse one token instead of re-authenticating
// every time).
type FedAuth struct {
	Database string
	Acquirer TokenAcquirer
	Cache    *TokenCache
	CacheKey string // identifies this credential for cache/singleflight dedup
}

func (f *FedAuth) Name() string          { return "FedAuth" }
func (f *FedAuth) RequiresFedAuth() bool { return true }

func (f *FedAuth) PreloginOptions() PreloginOptions {
	return PreloginOptions{UseEncrypt: true, RequestFedAuth: true}
}

func (f *FedAuth) Login7Options() Login7Options {
	return Login7Options{Database: f.Database, AppName: "mssqlengine", IncludeFedAuthExt: true}
}

func (f *FedAuth) FedAuthToken(ctx context.Context, info FedAuthInfo) (string, error) {
	scope := azureSQLScope
	if info.SPN != "" {
		scope = info.SPN + "/.default"
	}
	return f.Cache.GetOrAcquire(ctx, f.CacheKey, func(ctx context.Context) (string, time.Time, error) {
		return f.Acquirer.Acquire(ctx, scope)
	})
}

func (f *FedAuth) InvalidateToken() {
	f.Cache.Invalidate(f.CacheKey)
}

func (f *FedAuth) TokenExpired() bool {
	_, ok := f.Cache.Get(f.CacheKey)
	return !ok
}
