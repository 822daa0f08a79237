package config

import "net/http"

func (s CookieSameSite) mode() http.SameSite {
	switch s {
	case CookieSameSiteNone:
		return http.SameSiteNoneMode
	case CookieSameSiteLax:
		return http.SameSiteLaxMode
	case CookieSameSiteStrict:
		return http.SameSiteStrictMode
	default:
		return http.SameSiteDefaultMode
	}
}

// ToCookie renders the template into a cookie carrying value. An empty path
// is widened to "/" so the cookie travels with every API call, including the
// renewal call.
func (ct *CookieTemplate) ToCookie(value string) *http.Cookie {
	path := ct.Path
	if path == "" {
		path = "/"
	}

	return &http.Cookie{
		Name:     ct.Name,
		Value:    value,
		MaxAge:   ct.MaxAge,
		Path:     path,
		Domain:   ct.Domain,
		Secure:   ct.Secure,
		HttpOnly: ct.HTTPOnly,
		SameSite: ct.SameSite.mode(),
	}
}
