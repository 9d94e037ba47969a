package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChainAcquirer_Acquire_UnknownLinkIsReportedAndExhausted(t *testing.T) {
	a := &ChainAcquirer{Links: []ChainLink{"bogus-link"}}
	_, _, err := a.Acquire(context.Background(), azureSQLScope)
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "bogus-link")
		assert.Contains(t, err.Error(), "credential chain exhausted")
	}
}

func TestChainAcquirer_Acquire_EnvLinkFailsFastWithoutCredentials(t *testing.T) {
	t.Setenv("AZURE_TENANT_ID", "")
	t.Setenv("AZURE_CLIENT_ID", "")
	t.Setenv("AZURE_CLIENT_SECRET", "")

	a := &ChainAcquirer{Links: []ChainLink{ChainLinkEnv}}
	_, _, err := a.Acquire(context.Background(), azureSQLScope)
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "env:")
	}
}
