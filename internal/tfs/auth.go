package tfs

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/inovacc/tfsarchive/internal/model"
	"golang.org/x/oauth2"
)

// authTransport wraps base so every request carries creds.
func authTransport(base http.RoundTripper, creds model.Credentials) (http.RoundTripper, error) {
	if base == nil {
		base = http.DefaultTransport
	}

	switch c := creds.(type) {
	case model.TokenCredentials:
		// TFS accepts a PAT as the password of an empty user
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: patBasic(c.Token), TokenType: "Basic"})
		return &oauth2.Transport{Source: ts, Base: base}, nil
	case model.BasicCredentials:
		return &basicAuthTransport{username: c.Username, password: c.Password, base: base}, nil
	case nil:
		return nil, fmt.Errorf("credentials are required")
	}

	return nil, fmt.Errorf("unsupported credentials %T", creds)
}

type basicAuthTransport struct {
	username string
	password string
	base     http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.SetBasicAuth(t.username, t.password)

	return t.base.RoundTrip(r)
}

// AuthorizationHeader renders the Authorization header value for creds, as
// injected into git through http.extraHeader.
func AuthorizationHeader(creds model.Credentials) (string, error) {
	switch c := creds.(type) {
	case model.TokenCredentials:
		return "Basic " + patBasic(c.Token), nil
	case model.BasicCredentials:
		raw := c.Username + ":" + c.Password
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw)), nil
	case nil:
		return "", fmt.Errorf("credentials are required")
	}

	return "", fmt.Errorf("unsupported credentials %T", creds)
}

func patBasic(token string) string {
	return base64.StdEncoding.EncodeToString([]byte(":" + token))
}

// Secrets returns every string derived from creds that must never be shown.
func Secrets(creds model.Credentials) []string {
	out := model.Secrets(creds)

	if h, err := AuthorizationHeader(creds); err == nil {
		if _, v, ok := strings.Cut(h, " "); ok {
			out = append(out, v)
		}
	}

	return out
}
