package config

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

var ErrNoCredentials = errors.New("no login credentials configured")

// LoadCredentials resolves the configured username and password.
func LoadCredentials(conf Credentials) (username, password string, _ error) {
	if conf.Username == "" {
		return "", "", ErrNoCredentials
	}

	secret, err := commoncfg.LoadValueFromSourceRef(conf.Password)
	if err != nil {
		return "", "", fmt.Errorf("loading password: %w", err)
	}

	return conf.Username, string(secret), nil
}

// LoadSessionReference resolves the seeded session reference cookie. It
// returns nil when no value source is configured.
func LoadSessionReference(conf SessionReference) (*http.Cookie, error) {
	if conf.Value.Source == "" {
		return nil, nil //nolint:nilnil
	}

	value, err := commoncfg.LoadValueFromSourceRef(conf.Value)
	if err != nil {
		return nil, fmt.Errorf("loading session reference: %w", err)
	}

	return conf.Cookie.ToCookie(string(value)), nil
}
