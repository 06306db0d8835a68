// Package oidc implements OpenID Connect sign-in for dashboard users.
// Each configured provider (Google or any OIDC-compliant issuer) is discovered once at startup;
// a callback exchanges the authorization code and returns the verified identity.
package oidc

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rnblock/api-key-provider/internal/config"
	"golang.org/x/oauth2"
)

// ErrUnknownProvider is returned when a sign-in names a provider that is not configured
var ErrUnknownProvider = errors.New("unknown OIDC provider")

// Identity is the verified user information taken from an ID token
type Identity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

// Provider wraps a single discovered OIDC issuer
type Provider struct {
	name     string
	verifier *oidc.IDTokenVerifier
	config   *oauth2.Config
}

// NewProvider discovers the issuer and builds the OAuth2 client for one provider config
func NewProvider(ctx context.Context, cfg config.OIDCProviderConfig) (*Provider, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("OIDC provider name is required")
	}
	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("OIDC issuer URL is required for %s", cfg.Name)
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("OIDC client ID is required for %s", cfg.Name)
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("OIDC client secret is required for %s", cfg.Name)
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider %s: %w", cfg.Name, err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}

	return &Provider{
		name:     cfg.Name,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
		},
	}, nil
}

// Name returns the provider key used in routes
func (p *Provider) Name() string {
	return p.name
}

// AuthURL returns the authorization redirect for a sign-in attempt
func (p *Provider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// ExchangeCode exchanges the authorization code for tokens
func (p *Provider) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code for token: %w", err)
	}
	return token, nil
}

// Authenticate exchanges the code, verifies the ID token and extracts the identity
func (p *Provider) Authenticate(ctx context.Context, code string) (*Identity, error) {
	token, err := p.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("token response has no id_token")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims identityClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse ID token claims: %w", err)
	}
	return claims.identity(p.name)
}

type identityClaims struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func (c identityClaims) identity(provider string) (*Identity, error) {
	if c.Sub == "" {
		return nil, fmt.Errorf("ID token missing 'sub' claim")
	}
	if c.Email == "" {
		return nil, fmt.Errorf("ID token missing 'email' claim")
	}
	name := c.Name
	if name == "" {
		name = c.Email
	}
	return &Identity{
		Provider:      provider,
		Subject:       c.Sub,
		Email:         c.Email,
		EmailVerified: c.EmailVerified,
		Name:          name,
		Picture:       c.Picture,
	}, nil
}

// Registry holds the providers available for sign-in
type Registry struct {
	providers map[string]*Provider
}

// NewRegistry discovers every configured provider. A provider that fails discovery is an error.
func NewRegistry(ctx context.Context, cfgs []config.OIDCProviderConfig) (*Registry, error) {
	r := &Registry{providers: make(map[string]*Provider, len(cfgs))}
	for _, cfg := range cfgs {
		p, err := NewProvider(ctx, cfg)
		if err != nil {
			return nil, err
		}
		r.providers[p.name] = p
	}
	return r, nil
}

// Get returns the named provider
func (r *Registry) Get(name string) (*Provider, error) {
	if r == nil {
		return nil, ErrUnknownProvider
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names lists the configured provider names in sorted order
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
