// Package discord talks to the Discord OAuth and REST APIs: it exchanges
// authorization codes for identities and manages guild member roles.
package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/nexus-verify/internal/config"
	"github.com/nexus-verify/internal/domain"
	"golang.org/x/oauth2"
)

// Exchanger turns a one-time authorization code into an identity. The access
// token is revoked as soon as the identity is known.
type Exchanger struct {
	oauth   *oauth2.Config
	apiBase string
	http    *http.Client
}

func NewExchanger(cfg *config.Config, httpClient *http.Client) *Exchanger {
	base := strings.TrimRight(cfg.DiscordAPIBase, "/")
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Exchanger{
		oauth: &oauth2.Config{
			ClientID:     cfg.DiscordClientID,
			ClientSecret: cfg.DiscordClientSecret,
			RedirectURL:  cfg.CallbackURL(),
			Scopes:       []string{"identify"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/oauth2/authorize",
				TokenURL:  base + "/oauth2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiBase: base,
		http:    httpClient,
	}
}

// AuthCodeURL is where the browser starts the flow. An empty state starts the
// primary flow; correlation flows pass the state they were issued.
func (e *Exchanger) AuthCodeURL(state string) string {
	if state == "" {
		u, _ := url.Parse(e.oauth.AuthCodeURL(""))
		q := u.Query()
		q.Del("state")
		u.RawQuery = q.Encode()
		return u.String()
	}
	return e.oauth.AuthCodeURL(state)
}

// Exchange returns the identity behind code. Every failure is reported as a
// domain.ErrExchange-wrapped error.
func (e *Exchanger) Exchange(ctx context.Context, code string) (*domain.Identity, error) {
	if code == "" {
		return nil, fmt.Errorf("empty authorization code: %w", domain.ErrExchange)
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.http)
	tok, err := e.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("token endpoint: %v: %w", err, domain.ErrExchange)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("empty access token: %w", domain.ErrExchange)
	}
	defer e.revoke(ctx, tok.AccessToken)

	ident, err := e.fetchIdentity(ctx, tok.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("identity fetch: %v: %w", err, domain.ErrExchange)
	}
	return ident, nil
}

func (e *Exchanger) fetchIdentity(ctx context.Context, accessToken string) (*domain.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.apiBase+"/v10/users/@me", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := e.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("users/@me returned %d", resp.StatusCode)
	}
	var ident domain.Identity
	if err := json.NewDecoder(resp.Body).Decode(&ident); err != nil {
		return nil, fmt.Errorf("decode identity: %w", err)
	}
	if ident.ID == "" {
		return nil, fmt.Errorf("identity without id")
	}
	return &ident, nil
}

// revoke is best-effort; a failure is logged and never surfaces to the caller.
func (e *Exchanger) revoke(ctx context.Context, accessToken string) {
	form := url.Values{
		"client_id":     {e.oauth.ClientID},
		"client_secret": {e.oauth.ClientSecret},
		"token":         {accessToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiBase+"/oauth2/token/revoke", strings.NewReader(form.Encode()))
	if err != nil {
		slog.Warn("token revoke request failed", "err", err)
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := e.http.Do(req)
	if err != nil {
		slog.Warn("token revoke failed", "err", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		slog.Warn("token revoke rejected", "status", resp.StatusCode)
	}
}
