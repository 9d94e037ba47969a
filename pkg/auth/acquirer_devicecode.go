package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// azureInteractiveClientID is Azure CLI's public client ID, which Azure AD
// accepts in every tenant without an app registration step — used as the
// default for interactive device-code auth when the caller supplies none.
const azureInteractiveClientID = "04b07795-8ddb-461a-bbee-02f9e1bf7b46"

const (
	deviceCodeDefaultTimeout  = 900 * time.Second
	deviceCodeDefaultInterval = 5 * time.Second
	deviceCodeGrantType       = "urn:ietf:params:oauth:grant-type:device_code"
)

// DeviceCodePrompt is called once the device code has been obtained, so
// the caller can surface verificationURI/userCode however it presents
// interactive prompts (terminal, log line, UI dialog).
type DeviceCodePrompt func(verificationURI, userCode, message string)

// DeviceCodeAcquirer implements the OAuth2 Device Authorization Grant
// (RFC 8628): it requests a device code, surfaces it via Prompt, then
// polls the token endpoint until the user completes sign-in or the code
// expires.
type DeviceCodeAcquirer struct {
	TenantID string // "common" for multi-tenant
	ClientID string // defaults to azureInteractiveClientID
	Prompt   DeviceCodePrompt
	Timeout  time.Duration // defaults to deviceCodeDefaultTimeout

	client *retryablehttp.Client
}

type deviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	Message         string `json:"message"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
	ErrorDesc   string `json:"error_description"`
}

func (a *DeviceCodeAcquirer) httpClient() *retryablehttp.Client {
	if a.client == nil {
		a.client = retryablehttp.NewClient()
		a.client.Logger = nil
		a.client.RetryMax = 3
	}
	return a.client
}

func (a *DeviceCodeAcquirer) tenant() string {
	if a.TenantID != "" {
		return a.TenantID
	}
	return "common"
}

func (a *DeviceCodeAcquirer) clientID() string {
	if a.ClientID != "" {
		return a.ClientID
	}
	return azureInteractiveClientID
}

func (a *DeviceCodeAcquirer) Acquire(ctx context.Context, scope string) (string, time.Time, error) {
	dc, err := a.requestDeviceCode(ctx, scope)
	if err != nil {
		return "", time.Time{}, err
	}

	if a.Prompt != nil {
		a.Prompt(dc.VerificationURI, dc.UserCode, dc.Message)
	}

	timeout := a.Timeout
	if timeout == 0 {
		timeout = deviceCodeDefaultTimeout
	}
	interval := time.Duration(dc.Interval) * time.Second
	if interval <= 0 {
		interval = deviceCodeDefaultInterval
	}

	return a.pollForToken(ctx, dc.DeviceCode, interval, timeout)
}

func (a *DeviceCodeAcquirer) requestDeviceCode(ctx context.Context, scope string) (*deviceCodeResponse, error) {
	form := url.Values{
		"client_id": {a.clientID()},
		"scope":     {scope},
	}
	endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/devicecode", azureADBaseURL, a.tenant())

	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("auth: building device code request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: requesting device code: %w", err)
	}
	defer resp.Body.Close()

	var dc deviceCodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&dc); err != nil {
		return nil, fmt.Errorf("auth: decoding device code response: %w", err)
	}
	if dc.DeviceCode == "" {
		return nil, fmt.Errorf("auth: device code endpoint returned no device_code")
	}
	return &dc, nil
}

func (a *DeviceCodeAcquirer) pollForToken(ctx context.Context, deviceCode string, interval, timeout time.Duration) (string, time.Time, error) {
	deadline := time.Now().Add(timeout)
	endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/token", azureADBaseURL, a.tenant())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", time.Time{}, ctx.Err()
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			return "", time.Time{}, fmt.Errorf("auth: device code flow timed out after %s", timeout)
		}

		form := url.Values{
			"grant_type":  {deviceCodeGrantType},
			"client_id":   {a.clientID()},
			"device_code": {deviceCode},
		}
		req, err := retryablehttp.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return "", time.Time{}, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := a.httpClient().Do(req)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("auth: polling token endpoint: %w", err)
		}
		var tok tokenResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&tok)
		resp.Body.Close()
		if decodeErr != nil {
			return "", time.Time{}, fmt.Errorf("auth: decoding token poll response: %w", decodeErr)
		}

		switch tok.Error {
		case "":
			return tok.AccessToken, time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second), nil
		case "authorization_pending", "slow_down":
			continue
		default:
			return "", time.Time{}, fmt.Errorf("auth: device code flow failed: %s (%s)", tok.Error, tok.ErrorDesc)
		}
	}
}
