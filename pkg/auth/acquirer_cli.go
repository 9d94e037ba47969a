package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"
)

// CLIAcquirer acquires a token by shelling out to the Azure CLI ("az"),
// reusing whatever interactive or managed-identity session the caller
// already has open in that CLI. No library in the example pack wraps
// subprocess execution, so this stays on os/exec directly.
type CLIAcquirer struct {
	// Subscription, if set, is passed as --subscription so the token is
	// issued against a specific tenant context rather than az's default.
	Subscription string
}

type azAccessToken struct {
	AccessToken string `json:"accessToken"`
	ExpiresOn   string `json:"expiresOn"`
	Tenant      string `json:"tenant"`
}

func (a *CLIAcquirer) Acquire(ctx context.Context, scope string) (string, time.Time, error) {
	resource := scope
	// az CLI's `--resource` wants the bare audience, not a trailing
	// "/.default" scope suffix.
	const defaultSuffix = "/.default"
	if len(resource) > len(defaultSuffix) && resource[len(resource)-len(defaultSuffix):] == defaultSuffix {
		resource = resource[:len(resource)-len(defaultSuffix)]
	}

	args := []string{"account", "get-access-token", "--resource", resource, "--output", "json"}
	if a.Subscription != "" {
		args = append(args, "--subscription", a.Subscription)
	}

	cmd := exec.CommandContext(ctx, "az", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", time.Time{}, fmt.Errorf("auth: az account get-access-token failed: %w: %s", err, stderr.String())
	}

	var tok azAccessToken
	if err := json.Unmarshal(stdout.Bytes(), &tok); err != nil {
		return "", time.Time{}, fmt.Errorf("auth: parsing az access token output: %w", err)
	}
	if tok.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("auth: az returned no accessToken")
	}

	expiresAt, err := parseAzExpiresOn(tok.ExpiresOn)
	if err != nil {
		expiresAt = time.Now().Add(defaultTokenLifetime)
	}
	return tok.AccessToken, expiresAt, nil
}

// parseAzExpiresOn parses the local-time "2006-01-02 15:04:05.000000"
// format the Azure CLI emits for expiresOn.
func parseAzExpiresOn(s string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02 15:04:05.000000", s, time.Local)
}
