package httpapi

import (
	"net/http"

	"gatehouse.org/internal/auth"
)

const (
	deviceCookieName  = "deviceId"
	accessCookieName  = "accessToken"
	refreshCookieName = "refreshToken"
)

// CookieConfig controls session cookie attributes. Secure is gated on the
// deployment environment so local HTTP development keeps working.
type CookieConfig struct {
	Domain string
	Secure bool
}

func (a *API) setSessionCookies(w http.ResponseWriter, deviceID string, access, refresh auth.Token) {
	// Max-age follows the token lifetime; TotalDuration is milliseconds.
	refreshMaxAge := int(refresh.TotalDuration / 1000)
	a.setCookie(w, deviceCookieName, deviceID, refreshMaxAge)
	a.setCookie(w, accessCookieName, access.Value, int(access.TotalDuration/1000))
	a.setCookie(w, refreshCookieName, refresh.Value, refreshMaxAge)
}

func (a *API) clearSessionCookies(w http.ResponseWriter) {
	a.setCookie(w, deviceCookieName, "", -1)
	a.setCookie(w, accessCookieName, "", -1)
	a.setCookie(w, refreshCookieName, "", -1)
}

func (a *API) setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   a.cookies.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   a.cookies.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
