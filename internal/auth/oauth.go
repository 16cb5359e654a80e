package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

var (
	// ErrExchangeFailed means GitHub did not hand out an access token for the code.
	ErrExchangeFailed = errors.New("auth: oauth code exchange failed")
	// ErrNotStarred means a star request did not stick.
	ErrNotStarred = errors.New("auth: repository not starred")
)

// GitHubUser is the portion of the GitHub /user API response we care about.
//
// GitHub API docs: https://docs.github.com/en/rest/users/users#get-the-authenticated-user
type GitHubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Email     string `json:"email"` // empty if hidden in GitHub settings
	AvatarURL string `json:"avatar_url"`
	HTMLURL   string `json:"html_url"`
}

// GitHubConfig configures a GitHubProvider. The URL overrides exist so tests
// can point the provider at an httptest server.
type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string

	APIBaseURL string // default https://api.github.com
	AuthURL    string // default github.Endpoint.AuthURL
	TokenURL   string // default github.Endpoint.TokenURL
}

// GitHubProvider wraps golang.org/x/oauth2 for the GitHub Authorization Code
// flow and the handful of REST calls made with the resulting token.
//
// FLOW:
//  1. The frontend sends the user to AuthURL(state)
//  2. GitHub redirects back to the frontend with a short-lived code
//  3. The frontend POSTs the code to us; Exchange trades it for a token
//  4. User (and for reward registrations, Star) run with that token
type GitHubProvider struct {
	config  *oauth2.Config
	apiBase string
}

// NewGitHubProvider creates a GitHubProvider.
//
// Scopes:
//   - "read:user", "user:email" for the profile
//   - "public_repo" so reward registrations can star a repository
func NewGitHubProvider(cfg GitHubConfig) *GitHubProvider {
	endpoint := github.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}

	apiBase := strings.TrimRight(cfg.APIBaseURL, "/")
	if apiBase == "" {
		apiBase = "https://api.github.com"
	}

	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       []string{"read:user", "user:email", "public_repo"},
			Endpoint:     endpoint,
		},
		apiBase: apiBase,
	}
}

// AuthURL returns the GitHub authorization URL carrying state.
func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades an authorization code for an access token.
// Any failure, including a response without a token, wraps ErrExchangeFailed.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: empty code", ErrExchangeFailed)
	}

	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: no access token returned", ErrExchangeFailed)
	}
	return tok, nil
}

// User fetches the authenticated user's profile.
func (p *GitHubProvider) User(ctx context.Context, tok *oauth2.Token) (*GitHubUser, error) {
	resp, err := p.do(ctx, tok, http.MethodGet, "/user")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: GitHub /user API returned status %d", resp.StatusCode)
	}

	var ghUser GitHubUser
	if err := json.NewDecoder(resp.Body).Decode(&ghUser); err != nil {
		return nil, fmt.Errorf("auth: decoding GitHub /user response: %w", err)
	}
	if ghUser.ID == 0 || ghUser.Login == "" {
		return nil, fmt.Errorf("auth: GitHub returned an invalid user (id=%d login=%q)", ghUser.ID, ghUser.Login)
	}

	return &ghUser, nil
}

// Star stars repo ("owner/name") on behalf of the token's user and then
// confirms the star is visible. A star that does not stick returns ErrNotStarred.
func (p *GitHubProvider) Star(ctx context.Context, tok *oauth2.Token, repo string) error {
	path, err := starredPath(repo)
	if err != nil {
		return err
	}

	resp, err := p.do(ctx, tok, http.MethodPut, path)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("%w: PUT %s returned status %d", ErrNotStarred, path, resp.StatusCode)
	}

	starred, err := p.Starred(ctx, tok, repo)
	if err != nil {
		return err
	}
	if !starred {
		return fmt.Errorf("%w: %s", ErrNotStarred, repo)
	}
	return nil
}

// Starred reports whether the token's user has starred repo.
func (p *GitHubProvider) Starred(ctx context.Context, tok *oauth2.Token, repo string) (bool, error) {
	path, err := starredPath(repo)
	if err != nil {
		return false, err
	}

	resp, err := p.do(ctx, tok, http.MethodGet, path)
	if err != nil {
		return false, err
	}
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("auth: GET %s returned status %d", path, resp.StatusCode)
	}
}

// do issues an authenticated GitHub REST request. The oauth2 client adds
// the Authorization header.
func (p *GitHubProvider) do(ctx context.Context, tok *oauth2.Token, method, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.apiBase+path, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: building GitHub request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if method == http.MethodPut {
		req.Header.Set("Content-Length", "0")
	}

	resp, err := p.config.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: calling GitHub %s %s: %w", method, path, err)
	}
	return resp, nil
}

func starredPath(repo string) (string, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("auth: repository must be owner/name, got %q", repo)
	}
	return "/user/starred/" + url.PathEscape(owner) + "/" + url.PathEscape(name), nil
}
