package transport

import (
	"net/http"
	"net/url"
)

const (
	// DefaultCSRFCookie is the cookie the backend issues the anti-forgery value in.
	DefaultCSRFCookie = "csrf_token"
	// DefaultCSRFHeader is the header the value is echoed back in.
	DefaultCSRFHeader = "X-CSRF-Token"
)

// CSRFAccessor yields the current CSRF token, or "" when none is present.
// It is consulted once per mutating request.
type CSRFAccessor interface {
	CSRFToken() string
}

// CSRFFunc adapts a function to CSRFAccessor.
type CSRFFunc func() string

func (f CSRFFunc) CSRFToken() string { return f() }

// JarCSRF reads the token from a cookie jar, the way a browser exposes a
// readable cookie to script.
type JarCSRF struct {
	Jar    http.CookieJar
	URL    *url.URL
	Cookie string
}

func (j JarCSRF) CSRFToken() string {
	if j.Jar == nil || j.URL == nil {
		return ""
	}
	name := j.Cookie
	if name == "" {
		name = DefaultCSRFCookie
	}
	for _, cookie := range j.Jar.Cookies(j.URL) {
		if cookie.Name == name {
			return cookie.Value
		}
	}
	return ""
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}
