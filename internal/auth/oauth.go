package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"github.com/ggonzalez94/mercata-mcp/internal/config"
	clierr "github.com/ggonzalez94/mercata-mcp/internal/errors"
	"github.com/ggonzalez94/mercata-mcp/internal/httpx"
	"golang.org/x/oauth2"
)

var defaultScopes = []string{"email", "openid"}

type discoveryDocument struct {
	Issuer        string `json:"issuer"`
	TokenEndpoint string `json:"token_endpoint"`
}

// OAuthExchanger runs the resource owner password credentials grant against
// the token endpoint advertised by the OpenID discovery document.
type OAuthExchanger struct {
	settings config.Settings
	http     *httpx.Client

	mu       sync.Mutex
	tokenURL map[string]string
}

func NewOAuthExchanger(settings config.Settings, httpClient *httpx.Client) *OAuthExchanger {
	return &OAuthExchanger{
		settings: settings,
		http:     httpClient,
		tokenURL: map[string]string{},
	}
}

func (e *OAuthExchanger) Exchange(ctx context.Context) (Credential, error) {
	creds, err := e.settings.Credentials()
	if err != nil {
		return Credential{}, err
	}
	tokenURL, err := e.tokenEndpoint(ctx, creds.DiscoveryURL)
	if err != nil {
		return Credential{}, err
	}

	cfg := oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		Scopes:       defaultScopes,
	}
	octx := context.WithValue(ctx, oauth2.HTTPClient, e.http.HTTPClient())
	tok, err := cfg.PasswordCredentialsToken(octx, creds.Username, creds.Password)
	if err != nil {
		return Credential{}, err
	}
	return Credential{Token: tok.AccessToken, ExpiresAt: expiresAt(tok)}, nil
}

func (e *OAuthExchanger) tokenEndpoint(ctx context.Context, discoveryURL string) (string, error) {
	e.mu.Lock()
	cached := e.tokenURL[discoveryURL]
	e.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	var doc discoveryDocument
	if err := e.http.Get(ctx, discoveryURL, nil, &doc); err != nil {
		return "", err
	}
	if strings.TrimSpace(doc.TokenEndpoint) == "" {
		return "", clierr.New(clierr.CodeAuth, "discovery document has no token_endpoint")
	}

	e.mu.Lock()
	e.tokenURL[discoveryURL] = doc.TokenEndpoint
	e.mu.Unlock()
	return doc.TokenEndpoint, nil
}

// expiresAt prefers a provider supplied expires_at (milliseconds) and falls
// back to the expiry computed from expires_in.
func expiresAt(tok *oauth2.Token) int64 {
	switch v := tok.Extra("expires_at").(type) {
	case float64:
		return int64(v / 1000)
	case string:
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			return ms / 1000
		}
	}
	if tok.Expiry.IsZero() {
		return 0
	}
	return tok.Expiry.Unix()
}

// NameClaim decodes the payload segment of a JWT and returns its "name" claim.
func NameClaim(token string) (string, error) {
	claims, err := DecodeClaims(token)
	if err != nil {
		return "", err
	}
	name, _ := claims["name"].(string)
	return name, nil
}

func DecodeClaims(token string) (map[string]any, error) {
	parts := strings.Split(token, ".")
	if len(parts) < 2 {
		return nil, clierr.New(clierr.CodeAuth, "credential is not a JWT")
	}
	seg := strings.TrimRight(parts[1], "=")
	raw, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(seg)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeAuth, "decode credential payload", err)
		}
	}
	claims := map[string]any{}
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, clierr.Wrap(clierr.CodeAuth, "parse credential payload", err)
	}
	return claims, nil
}
