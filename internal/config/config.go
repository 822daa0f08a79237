// Package config defines the necessary types to configure the application.
// An example config file config.yaml is provided in the repository.
package config

import (
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

type Config struct {
	commoncfg.BaseConfig `mapstructure:",squash" yaml:",inline"`

	SessionClient SessionClient `yaml:"sessionClient"`
	Keeper        Keeper        `yaml:"keeper"`
}

type SessionClient struct {
	// BaseURL of the API issuing and accepting the access credentials.
	BaseURL   string    `yaml:"baseURL" default:"https://localhost:8080"`
	Endpoints Endpoints `yaml:"endpoints"`

	RequestTimeout   time.Duration `yaml:"requestTimeout" default:"30s"`
	RenewalTimeout   time.Duration `yaml:"renewalTimeout" default:"10s"`
	IdentityCacheTTL time.Duration `yaml:"identityCacheTTL" default:"1m"`

	ClientAuth       ClientAuth       `yaml:"clientAuth"`
	Credentials      Credentials      `yaml:"credentials"`
	SessionReference SessionReference `yaml:"sessionReference"`
}

type Endpoints struct {
	Login   string `yaml:"login" default:"/api/login"`
	Refresh string `yaml:"refresh" default:"/api/refresh"`
	Logout  string `yaml:"logout" default:"/api/logout"`
	WhoAmI  string `yaml:"whoami" default:"/api/whoami"`
}

// ClientAuth selects how the underlying transport talks TLS to the API.
type ClientAuth struct {
	Type string          `yaml:"type" default:"default"`
	MTLS *commoncfg.MTLS `yaml:"mtls"`
}

// Credentials are used to log in when no session can be rehydrated.
type Credentials struct {
	Username string              `yaml:"username"`
	Password commoncfg.SourceRef `yaml:"password"`
}

// SessionReference seeds the cookie jar with an already issued session
// reference, e.g. a refresh cookie obtained out of band.
type SessionReference struct {
	Cookie CookieTemplate      `yaml:"cookie"`
	Value  commoncfg.SourceRef `yaml:"value"`
}

type CookieSameSite string

const (
	CookieSameSiteNone   CookieSameSite = "None"
	CookieSameSiteLax    CookieSameSite = "Lax"
	CookieSameSiteStrict CookieSameSite = "Strict"
)

type CookieTemplate struct {
	Name     string         `yaml:"name" default:"refresh_token"`
	Domain   string         `yaml:"domain"`
	Path     string         `yaml:"path" default:"/"`
	MaxAge   int            `yaml:"maxAge"`
	Secure   bool           `yaml:"secure" default:"true"`
	HTTPOnly bool           `yaml:"httpOnly" default:"true"`
	SameSite CookieSameSite `yaml:"sameSite" default:"Lax"`
}

// Keeper configures the job keeping a session alive.
type Keeper struct {
	Interval time.Duration `yaml:"interval" default:"1m"`
	// ProbePaths are requested on every tick. Defaults to the whoami endpoint.
	ProbePaths []string `yaml:"probePaths"`
	// Concurrency bounds the probes in flight at once.
	Concurrency int `yaml:"concurrency" default:"1"`

	// LogoutOnExit revokes the server-side session when the keeper stops.
	LogoutOnExit bool `yaml:"logoutOnExit"`
}
