package auth

import (
	"context"
	"fmt"
	"os"
	"time"
)

// EnvAcquirer reads service-principal credentials from the environment
// variables the Azure SDKs standardize on (AZURE_TENANT_ID,
// AZURE_CLIENT_ID, AZURE_CLIENT_SECRET) and delegates the actual token
// request to the client-credentials grant, for the "env" credential
// chain link.
type EnvAcquirer struct {
	inner *ClientCredentialsAcquirer
}

func (a *EnvAcquirer) Acquire(ctx context.Context, scope string) (string, time.Time, error) {
	if a.inner == nil {
		tenantID := os.Getenv("AZURE_TENANT_ID")
		clientID := os.Getenv("AZURE_CLIENT_ID")
		clientSecret := os.Getenv("AZURE_CLIENT_SECRET")
		if tenantID == "" || clientID == "" || clientSecret == "" {
			return "", time.Time{}, fmt.Errorf("auth: AZURE_TENANT_ID, AZURE_CLIENT_ID, and AZURE_CLIENT_SECRET must all be set")
		}
		a.inner = &ClientCredentialsAcquirer{
			TenantID:     tenantID,
			ClientID:     clientID,
			ClientSecret: clientSecret,
		}
	}
	return a.inner.Acquire(ctx, scope)
}
