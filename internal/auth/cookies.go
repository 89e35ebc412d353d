package auth

import (
	"net/http"
	"strings"
	"time"
)

const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"

	refreshCookiePath = "/auth"
)

// ShouldUseCookies reports whether the client is a browser that expects
// tokens in cookies instead of the response body. Browsers send Sec-Fetch-*
// headers; other clients may opt in with X-Client-Type: web.
func ShouldUseCookies(r *http.Request) bool {
	if strings.EqualFold(r.Header.Get("X-Client-Type"), "web") {
		return true
	}
	return r.Header.Get("Sec-Fetch-Site") != ""
}

// SetAuthCookies writes both tokens as HttpOnly cookies. The refresh cookie is
// only sent to the auth endpoints.
func SetAuthCookies(w http.ResponseWriter, accessToken, refreshToken string, secure bool, accessTTL, refreshTTL time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     AccessTokenCookie,
		Value:    accessToken,
		Path:     "/",
		MaxAge:   int(accessTTL.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshTokenCookie,
		Value:    refreshToken,
		Path:     refreshCookiePath,
		MaxAge:   int(refreshTTL.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearAuthCookies expires both auth cookies.
func ClearAuthCookies(w http.ResponseWriter, secure bool) {
	for _, c := range []struct{ name, path string }{
		{AccessTokenCookie, "/"},
		{RefreshTokenCookie, refreshCookiePath},
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     c.name,
			Value:    "",
			Path:     c.path,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

func GetAccessTokenFromCookie(r *http.Request) (string, error) {
	c, err := r.Cookie(AccessTokenCookie)
	if err != nil {
		return "", err
	}
	return c.Value, nil
}

func GetRefreshTokenFromCookie(r *http.Request) (string, error) {
	c, err := r.Cookie(RefreshTokenCookie)
	if err != nil {
		return "", err
	}
	return c.Value, nil
}
