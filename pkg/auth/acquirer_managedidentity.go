package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// imdsTokenURL is the Azure Instance Metadata Service endpoint every VM,
// App Service, and container instance with a managed identity assigned
// exposes on its link-local address.
const imdsTokenURL = "http://169.254.169.254/metadata/identity/oauth2/token"

// ManagedIdentityAcquirer acquires a token from the instance's assigned
// managed identity via IMDS, for the "managed_identity" credential chain
// link. ClientID selects a user-assigned identity; left empty, IMDS
// returns the system-assigned identity's token.
type ManagedIdentityAcquirer struct {
	ClientID string

	client *retryablehttp.Client
}

type imdsTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresOn   string `json:"expires_on"`
}

func (a *ManagedIdentityAcquirer) httpClient() *retryablehttp.Client {
	if a.client == nil {
		a.client = retryablehttp.NewClient()
		a.client.Logger = nil
		a.client.RetryMax = 2
	}
	return a.client
}

func (a *ManagedIdentityAcquirer) Acquire(ctx context.Context, scope string) (string, time.Time, error) {
	// IMDS wants the bare resource audience, not a "/.default" scope suffix.
	resource := scope
	const defaultSuffix = "/.default"
	if len(resource) > len(defaultSuffix) && resource[len(resource)-len(defaultSuffix):] == defaultSuffix {
		resource = resource[:len(resource)-len(defaultSuffix)]
	}

	q := url.Values{
		"api-version": {"2018-02-01"},
		"resource":    {resource},
	}
	if a.ClientID != "" {
		q.Set("client_id", a.ClientID)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", imdsTokenURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: building IMDS request: %w", err)
	}
	req.Header.Set("Metadata", "true")

	resp, err := a.httpClient().Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: IMDS request failed (no managed identity assigned?): %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("auth: IMDS returned status %d", resp.StatusCode)
	}

	var tok imdsTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", time.Time{}, fmt.Errorf("auth: decoding IMDS response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("auth: IMDS returned no access_token")
	}

	expiresAt, err := parseUnixSeconds(tok.ExpiresOn)
	if err != nil {
		expiresAt = time.Now().Add(defaultTokenLifetime)
	}
	return tok.AccessToken, expiresAt, nil
}

func parseUnixSeconds(s string) (time.Time, error) {
	var secs int64
	_, err := fmt.Sscanf(s, "%d", &secs)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(secs, 0), nil
}
