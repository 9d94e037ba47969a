package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ha1tch/mssqlengine/pkg/auth"
	"github.com/ha1tch/mssqlengine/pkg/engine"
	"github.com/ha1tch/mssqlengine/pkg/errors"
)

// ParseSecret builds an engine.Secret from a flat string-keyed map, the
// shape a SecretStore backed by a JSON/YAML file or connection-string
// option list actually holds on disk. Either "use_ssl" or "use_encrypt"
// is accepted for the TLS flag and both normalize to Secret.UseEncrypt;
// specifying both with conflicting values is a ConfigError.
func ParseSecret(raw map[string]string) (*engine.Secret, error) {
	s := &engine.Secret{
		Host:          raw["host"],
		Database:      raw["database"],
		User:          raw["user"],
		Password:      raw["password"],
		AzureSecret:   raw["azure_secret"],
		AzureTenantID: raw["azure_tenant_id"],
		Provider:      raw["provider"],
		TenantID:      raw["tenant_id"],
		ClientID:      raw["client_id"],
		ClientSecret:  raw["client_secret"],
		Chain:         raw["chain"],
	}

	if p, ok := raw["port"]; ok && p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeSecretBadValue, "parsing port").WithField("value", p).Build()
		}
		s.Port = n
	}

	encrypt, encryptSet, err := parseEncryptAlias(raw)
	if err != nil {
		return nil, err
	}
	if encryptSet {
		s.UseEncrypt = encrypt
	}

	return s, nil
}

func parseEncryptAlias(raw map[string]string) (bool, bool, error) {
	sslRaw, hasSSL := raw["use_ssl"]
	encryptRaw, hasEncrypt := raw["use_encrypt"]

	if hasSSL && hasEncrypt {
		sslVal, err := strconv.ParseBool(sslRaw)
		if err != nil {
			return false, false, errors.Wrap(err, errors.ErrCodeSecretBadValue, "parsing use_ssl").WithField("value", sslRaw).Build()
		}
		encryptVal, err := strconv.ParseBool(encryptRaw)
		if err != nil {
			return false, false, errors.Wrap(err, errors.ErrCodeSecretBadValue, "parsing use_encrypt").WithField("value", encryptRaw).Build()
		}
		if sslVal != encryptVal {
			return false, false, errors.New(errors.ErrCodeConfigInvalid,
				"use_ssl and use_encrypt both set with conflicting values").Build()
		}
		return encryptVal, true, nil
	}
	if hasSSL {
		v, err := strconv.ParseBool(sslRaw)
		if err != nil {
			return false, false, errors.Wrap(err, errors.ErrCodeSecretBadValue, "parsing use_ssl").WithField("value", sslRaw).Build()
		}
		return v, true, nil
	}
	if hasEncrypt {
		v, err := strconv.ParseBool(encryptRaw)
		if err != nil {
			return false, false, errors.Wrap(err, errors.ErrCodeSecretBadValue, "parsing use_encrypt").WithField("value", encryptRaw).Build()
		}
		return v, true, nil
	}
	return false, false, nil
}

// sharedTokenCache backs every FedAuth strategy built by this package, so
// connections opened against the same Azure identity reuse one cached
// token instead of each holding its own.
var sharedTokenCache = auth.NewTokenCache()

// BuildStrategy turns a resolved Secret into the auth.Strategy the
// connection layer drives PRELOGIN/LOGIN7 with. Plain SQL auth is chosen
// when Provider is empty; otherwise Provider selects one of the three
// Azure AD credential schemes.
func BuildStrategy(secret *engine.Secret) (auth.Strategy, error) {
	if secret == nil {
		return nil, errors.New(errors.ErrCodeConfigMissing, "no secret resolved for connection").Build()
	}

	if secret.Provider == "" {
		return &auth.SQLAuth{
			Username:   secret.User,
			Password:   secret.Password,
			Database:   secret.Database,
			UseEncrypt: secret.UseEncrypt,
		}, nil
	}

	acquirer, cacheKey, err := buildAcquirer(secret)
	if err != nil {
		return nil, err
	}
	return &auth.FedAuth{
		Database: secret.Database,
		Acquirer: acquirer,
		Cache:    sharedTokenCache,
		CacheKey: cacheKey,
	}, nil
}

func buildAcquirer(secret *engine.Secret) (auth.TokenAcquirer, string, error) {
	switch secret.Provider {
	case "service_principal":
		if secret.TenantID == "" || secret.ClientID == "" || secret.ClientSecret == "" {
			return nil, "", errors.New(errors.ErrCodeConfigInvalid,
				"service_principal secret requires tenant_id, client_id, and client_secret").
				WithField("azure_secret", secret.AzureSecret).Build()
		}
		return &auth.ClientCredentialsAcquirer{
			TenantID:     secret.TenantID,
			ClientID:     secret.ClientID,
			ClientSecret: secret.ClientSecret,
		}, cacheKey(secret), nil

	case "managed_identity":
		return &auth.ManagedIdentityAcquirer{ClientID: secret.ClientID}, cacheKey(secret), nil

	case "credential_chain":
		links, err := parseChain(secret.Chain)
		if err != nil {
			return nil, "", err
		}
		return &auth.ChainAcquirer{Links: links, TenantID: secret.TenantID}, cacheKey(secret), nil

	default:
		return nil, "", errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown azure secret provider %q", secret.Provider)).
			WithField("azure_secret", secret.AzureSecret).Build()
	}
}

// parseChain splits a "env;cli;interactive"-style chain string into
// ChainLinks, defaulting to ChainAcquirer's own built-in order when empty.
func parseChain(chain string) ([]auth.ChainLink, error) {
	if strings.TrimSpace(chain) == "" {
		return nil, nil
	}
	parts := strings.Split(chain, ";")
	links := make([]auth.ChainLink, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		switch auth.ChainLink(p) {
		case auth.ChainLinkCLI, auth.ChainLinkEnv, auth.ChainLinkManagedIdentity, auth.ChainLinkInteractive:
			links = append(links, auth.ChainLink(p))
		default:
			return nil, errors.New(errors.ErrCodeConfigInvalid, fmt.Sprintf("unknown credential chain link %q", p)).
				WithField("chain", chain).Build()
		}
	}
	return links, nil
}

// cacheKey identifies a credential for token cache/singleflight dedup:
// the Azure secret name when known, falling back to provider+tenant+client
// so two anonymous secrets for the same identity still share one token.
func cacheKey(secret *engine.Secret) string {
	if secret.AzureSecret != "" {
		return secret.AzureSecret
	}
	return strings.Join([]string{secret.Provider, secret.TenantID, secret.ClientID}, "|")
}
