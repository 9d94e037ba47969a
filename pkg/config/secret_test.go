package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ha1tch/mssqlengine/pkg/auth"
)

func TestParseSecret_Basic(t *testing.T) {
	s, err := ParseSecret(map[string]string{
		"host":     "db.example.com",
		"port":     "1433",
		"database": "Northwind",
		"user":     "sa",
		"password": "hunter2",
	})
	require.NoError(t, err)
	assert.Equal(t, "db.example.com", s.Host)
	assert.Equal(t, 1433, s.Port)
	assert.Equal(t, "Northwind", s.Database)
	assert.False(t, s.UseEncrypt)
}

func TestParseSecret_UseSSLAlias(t *testing.T) {
	s, err := ParseSecret(map[string]string{"use_ssl": "true"})
	require.NoError(t, err)
	assert.True(t, s.UseEncrypt)
}

func TestParseSecret_UseEncryptAlias(t *testing.T) {
	s, err := ParseSecret(map[string]string{"use_encrypt": "true"})
	require.NoError(t, err)
	assert.True(t, s.UseEncrypt)
}

func TestParseSecret_ConflictingAliases(t *testing.T) {
	_, err := ParseSecret(map[string]string{"use_ssl": "true", "use_encrypt": "false"})
	require.Error(t, err)
}

func TestParseSecret_AgreeingAliases(t *testing.T) {
	s, err := ParseSecret(map[string]string{"use_ssl": "true", "use_encrypt": "true"})
	require.NoError(t, err)
	assert.True(t, s.UseEncrypt)
}

func TestParseSecret_BadPort(t *testing.T) {
	_, err := ParseSecret(map[string]string{"port": "not-a-port"})
	require.Error(t, err)
}

func TestBuildStrategy_PlainSQLAuth(t *testing.T) {
	secret, err := ParseSecret(map[string]string{
		"user":     "sa",
		"password": "hunter2",
		"database": "Northwind",
	})
	require.NoError(t, err)

	strat, err := BuildStrategy(secret)
	require.NoError(t, err)
	assert.Equal(t, "SqlServerAuth", strat.Name())
	assert.False(t, strat.RequiresFedAuth())
}

func TestBuildStrategy_ServicePrincipal(t *testing.T) {
	secret, err := ParseSecret(map[string]string{
		"provider":      "service_principal",
		"tenant_id":     "tid",
		"client_id":     "cid",
		"client_secret": "csecret",
		"azure_secret":  "prod-sp",
	})
	require.NoError(t, err)

	strat, err := BuildStrategy(secret)
	require.NoError(t, err)
	assert.Equal(t, "FedAuth", strat.Name())
	assert.True(t, strat.RequiresFedAuth())
}

func TestBuildStrategy_ServicePrincipalMissingFields(t *testing.T) {
	secret, err := ParseSecret(map[string]string{"provider": "service_principal"})
	require.NoError(t, err)

	_, err = BuildStrategy(secret)
	require.Error(t, err)
}

func TestBuildStrategy_UnknownProvider(t *testing.T) {
	secret, err := ParseSecret(map[string]string{"provider": "carrier_pigeon"})
	require.NoError(t, err)

	_, err = BuildStrategy(secret)
	require.Error(t, err)
}

func TestBuildStrategy_CredentialChain(t *testing.T) {
	secret, err := ParseSecret(map[string]string{
		"provider": "credential_chain",
		"chain":    "env;cli",
	})
	require.NoError(t, err)

	strat, err := BuildStrategy(secret)
	require.NoError(t, err)
	chain, ok := strat.(*auth.FedAuth)
	require.True(t, ok)
	assert.NotNil(t, chain.Acquirer)
}

func TestBuildStrategy_CredentialChainUnknownLink(t *testing.T) {
	secret, err := ParseSecret(map[string]string{
		"provider": "credential_chain",
		"chain":    "env;teleport",
	})
	require.NoError(t, err)

	_, err = BuildStrategy(secret)
	require.Error(t, err)
}

func TestBuildStrategy_NilSecret(t *testing.T) {
	_, err := BuildStrategy(nil)
	require.Error(t, err)
}
