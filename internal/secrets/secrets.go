// Package secrets resolves SecretConfig and AuthConfig at prep time (spec
// §4.9). Resolution happens once per ReadyToExecute staging entity and the
// result is captured in its ExecutionContext; nothing here is retried
// mid-execution.
package secrets

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/ferroflux/ferroflux/internal/ferrors"
)

// Config resolves an environment variable and formats it into a header
// value using a single "{}" placeholder template.
type Config struct {
	LookupKey  string
	HeaderName string
	Template   string
}

// Resolve reads the environment variable named LookupKey and substitutes it
// into Template. Missing secrets fail with ferrors.SecretMissing (spec §7).
func (c Config) Resolve(lookup func(string) (string, bool)) (headerName, headerValue string, err error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	val, ok := lookup(c.LookupKey)
	if !ok || val == "" {
		return "", "", ferrors.New(ferrors.SecretMissing, "secret %q not set", c.LookupKey)
	}
	tmpl := c.Template
	if tmpl == "" {
		tmpl = "{}"
	}
	return c.HeaderName, strings.Replace(tmpl, "{}", val, 1), nil
}

// AuthKind enumerates the supported auth schemes.
type AuthKind string

const (
	Basic  AuthKind = "basic"
	APIKey AuthKind = "api_key"
	OAuth2 AuthKind = "oauth2"
	Bearer AuthKind = "bearer"
)

// AuthConfig resolves one of the four auth variants into a single Authorization
// (or equivalent) header.
type AuthConfig struct {
	Kind AuthKind

	// Basic
	UsernameSecret Config
	PasswordSecret Config

	// ApiKey
	APIKeySecret Config
	HeaderName   string // defaults to "X-API-Key" for ApiKey, "Authorization" for Bearer/OAuth2

	// OAuth2 / Bearer
	TokenSecret Config
}

// Resolve produces the header name/value pair to attach to a request,
// resolving whichever secrets the configured Kind requires.
func (a AuthConfig) Resolve(lookup func(string) (string, bool)) (headerName, headerValue string, err error) {
	switch a.Kind {
	case Basic:
		_, user, err := a.UsernameSecret.Resolve(lookup)
		if err != nil {
			return "", "", err
		}
		_, pass, err := a.PasswordSecret.Resolve(lookup)
		if err != nil {
			return "", "", err
		}
		return "Authorization", "Basic " + basicEncode(user, pass), nil
	case APIKey:
		name := a.HeaderName
		if name == "" {
			name = "X-API-Key"
		}
		_, key, err := a.APIKeySecret.Resolve(lookup)
		if err != nil {
			return "", "", err
		}
		return name, key, nil
	case OAuth2, Bearer:
		name := a.HeaderName
		if name == "" {
			name = "Authorization"
		}
		_, token, err := a.TokenSecret.Resolve(lookup)
		if err != nil {
			return "", "", err
		}
		return name, "Bearer " + token, nil
	default:
		return "", "", ferrors.New(ferrors.AuthFailed, "unknown auth kind %q", a.Kind)
	}
}

func basicEncode(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%s:%s", user, pass)))
}
