package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// E2E_SERVER_URL is the base URL of a running server, the suite is skipped when empty
	ServerURL string `envconfig:"E2E_SERVER_URL"`
	// E2E_AUTH_SECRET must match the server AUTH_SECRET when authentication is enabled
	AuthSecret string `envconfig:"E2E_AUTH_SECRET"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
