package auth

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

// ClientCredentialsAcquirer acquires a token via the OAuth2 client
// credentials grant, for the service-principal Azure secret provider
// (tenant_id + client_id + client_secret).
type ClientCredentialsAcquirer struct {
	TenantID     string
	ClientID     string
	ClientSecret string
}

func (a *ClientCredentialsAcquirer) Acquire(ctx context.Context, scope string) (string, time.Time, error) {
	if a.TenantID == "" || a.ClientID == "" || a.ClientSecret == "" {
		return "", time.Time{}, fmt.Errorf("auth: service principal requires tenant_id, client_id, and client_secret")
	}

	cfg := clientcredentials.Config{
		ClientID:     a.ClientID,
		ClientSecret: a.ClientSecret,
		TokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", azureADBaseURL, a.TenantID),
		Scopes:       []string{scope},
	}

	token, err := cfg.Token(ctx)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: service principal token request failed: %w", err)
	}

	expiresAt := token.Expiry
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(defaultTokenLifetime)
	}
	return token.AccessToken, expiresAt, nil
}

// defaultTokenLifetime is assumed when Azure AD's response omits expires_in,
// matching the original implementation's fallback.
const defaultTokenLifetime = 1 * time.Hour
