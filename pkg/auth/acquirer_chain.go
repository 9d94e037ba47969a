package auth

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ChainLink names one credential source a ChainAcquirer may try, matching
// azure_secret_reader's chain values.
type ChainLink string

const (
	ChainLinkCLI             ChainLink = "cli"
	ChainLinkEnv             ChainLink = "env"
	ChainLinkManagedIdentity ChainLink = "managed_identity"
	ChainLinkInteractive     ChainLink = "interactive"
)

// ChainAcquirer tries a sequence of credential sources in order and
// returns the first one that succeeds, mirroring the credential_chain
// secret provider.
type ChainAcquirer struct {
	Links []ChainLink

	// Interactive, if the chain includes ChainLinkInteractive, supplies
	// the prompt callback for the device code flow.
	Interactive DeviceCodePrompt
	TenantID    string
}

func (a *ChainAcquirer) Acquire(ctx context.Context, scope string) (string, time.Time, error) {
	links := a.Links
	if len(links) == 0 {
		links = []ChainLink{ChainLinkEnv, ChainLinkCLI, ChainLinkManagedIdentity, ChainLinkInteractive}
	}

	var errs []string
	for _, link := range links {
		acquirer, err := a.acquirerFor(link)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", link, err))
			continue
		}
		token, expiresAt, err := acquirer.Acquire(ctx, scope)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", link, err))
			continue
		}
		return token, expiresAt, nil
	}
	return "", time.Time{}, fmt.Errorf("auth: credential chain exhausted: %s", strings.Join(errs, "; "))
}

func (a *ChainAcquirer) acquirerFor(link ChainLink) (TokenAcquirer, error) {
	switch link {
	case ChainLinkCLI:
		return &CLIAcquirer{}, nil
	case ChainLinkEnv:
		return &EnvAcquirer{}, nil
	case ChainLinkManagedIdentity:
		return &ManagedIdentityAcquirer{}, nil
	case ChainLinkInteractive:
		return &DeviceCodeAcquirer{TenantID: a.TenantID, Prompt: a.Interactive}, nil
	default:
		return nil, fmt.Errorf("unknown credential chain link %q", link)
	}
}
