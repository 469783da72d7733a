package am

import (
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/teranos/hubrun/errors"
)

// Render formats the configuration for `hubrun am show` with api keys masked.
// format is "toml" (default) or "yaml".
func Render(c *Config, format string) ([]byte, error) {
	masked := *c
	masked.Hub.APIKey = MaskSecret(c.Hub.APIKey)
	masked.Credentials = make([]CredentialConfig, len(c.Credentials))
	for i, cred := range c.Credentials {
		cred.APIKey = MaskSecret(cred.APIKey)
		masked.Credentials[i] = cred
	}

	switch format {
	case "", "toml":
		return toml.Marshal(masked)
	case "yaml", "yml":
		return yaml.Marshal(masked)
	default:
		return nil, errors.NewInvalidRequestError("unknown format %q (want toml or yaml)", format)
	}
}

// MaskSecret keeps the first four and last two characters of a secret
func MaskSecret(secret string) string {
	switch {
	case secret == "":
		return ""
	case len(secret) <= 8:
		return "****"
	default:
		return secret[:4] + "…" + secret[len(secret)-2:]
	}
}
