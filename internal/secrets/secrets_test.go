package secrets

import (
	"testing"

	"github.com/ferroflux/ferroflux/internal/ferrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(values map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := values[k]
		return v, ok
	}
}

func TestConfigResolveFormatsTemplate(t *testing.T) {
	c := Config{LookupKey: "API_TOKEN", HeaderName: "X-Token", Template: "Token {}"}
	name, value, err := c.Resolve(env(map[string]string{"API_TOKEN": "abc123"}))
	require.NoError(t, err)
	assert.Equal(t, "X-Token", name)
	assert.Equal(t, "Token abc123", value)
}

func TestConfigResolveMissingSecret(t *testing.T) {
	c := Config{LookupKey: "MISSING"}
	_, _, err := c.Resolve(env(nil))
	require.Error(t, err)
	assert.Equal(t, ferrors.SecretMissing, ferrors.KindOf(err))
}

func TestAuthConfigBasic(t *testing.T) {
	a := AuthConfig{
		Kind:           Basic,
		UsernameSecret: Config{LookupKey: "U"},
		PasswordSecret: Config{LookupKey: "P"},
	}
	name, value, err := a.Resolve(env(map[string]string{"U": "bob", "P": "secret"}))
	require.NoError(t, err)
	assert.Equal(t, "Authorization", name)
	assert.Equal(t, "Basic Ym9iOnNlY3JldA==", value)
}

func TestAuthConfigBearer(t *testing.T) {
	a := AuthConfig{Kind: Bearer, TokenSecret: Config{LookupKey: "T"}}
	name, value, err := a.Resolve(env(map[string]string{"T": "xyz"}))
	require.NoError(t, err)
	assert.Equal(t, "Authorization", name)
	assert.Equal(t, "Bearer xyz", value)
}

func TestAuthConfigAPIKeyDefaultsHeaderName(t *testing.T) {
	a := AuthConfig{Kind: APIKey, APIKeySecret: Config{LookupKey: "K"}}
	name, value, err := a.Resolve(env(map[string]string{"K": "keyval"}))
	require.NoError(t, err)
	assert.Equal(t, "X-API-Key", name)
	assert.Equal(t, "keyval", value)
}
