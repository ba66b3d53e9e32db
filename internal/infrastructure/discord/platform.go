package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/nexus-verify/internal/domain"
)

// Platform reads and writes guild member roles with the bot token.
type Platform struct {
	apiBase  string
	botToken string
	guildID  string
	http     *http.Client
}

func NewPlatform(apiBase, botToken, guildID string, httpClient *http.Client) *Platform {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Platform{
		apiBase:  strings.TrimRight(apiBase, "/"),
		botToken: botToken,
		guildID:  guildID,
		http:     httpClient,
	}
}

type member struct {
	Roles []string `json:"roles"`
}

// HasRole reports whether identity holds roleID. A user outside the guild
// holds no roles.
func (p *Platform) HasRole(ctx context.Context, identity, roleID string) (bool, error) {
	if roleID == "" {
		return false, nil
	}
	resp, err := p.do(ctx, http.MethodGet, p.memberPath(identity))
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("get guild member: status %d", resp.StatusCode)
	}
	var m member
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return false, fmt.Errorf("decode guild member: %w", err)
	}
	return slices.Contains(m.Roles, roleID), nil
}

// GrantRoles adds each role in turn and stops at the first failure.
func (p *Platform) GrantRoles(ctx context.Context, identity string, roleIDs ...string) error {
	return p.eachRole(ctx, http.MethodPut, identity, roleIDs)
}

// RevokeRoles removes each role in turn and stops at the first failure.
func (p *Platform) RevokeRoles(ctx context.Context, identity string, roleIDs ...string) error {
	return p.eachRole(ctx, http.MethodDelete, identity, roleIDs)
}

func (p *Platform) eachRole(ctx context.Context, method, identity string, roleIDs []string) error {
	for _, roleID := range roleIDs {
		if roleID == "" {
			continue
		}
		resp, err := p.do(ctx, method, p.memberPath(identity)+"/roles/"+roleID)
		if err != nil {
			return err
		}
		resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("role %s for %s: %w", roleID, identity, domain.ErrNotMember)
		case resp.StatusCode >= 300:
			return fmt.Errorf("role %s for %s: status %d", roleID, identity, resp.StatusCode)
		}
	}
	return nil
}

func (p *Platform) memberPath(identity string) string {
	return "/v10/guilds/" + p.guildID + "/members/" + identity
}

func (p *Platform) do(ctx context.Context, method, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.apiBase+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bot "+p.botToken)
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discord %s %s: %w", method, path, err)
	}
	return resp, nil
}
