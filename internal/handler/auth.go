package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/dust/internal/auth"
)

// AuthURLer builds the GitHub authorization URL. auth.GitHubProvider implements it.
type AuthURLer interface {
	AuthURL(state string) string
}

// AuthHandler serves login, logout, GitHub login and password reset.
//
// HANDLER RESPONSIBILITIES:
//   - HandleLogin          → password login, issues a session token
//   - HandleLogout         → drops the session behind X-Auth-Token
//   - HandleGitHubURL      → authorization URL plus a signed state
//   - HandleGitHubLogin    → exchanges a GitHub code for a session
//   - HandleSendEmail      → mails a password reset link
//   - HandleResetPassword  → sets a new password from a reset link token
//   - HandleMe             → the logged-in account
type AuthHandler struct {
	auth   Authenticator
	github AuthURLer
	states StateVerifier
	logger *slog.Logger
}

func NewAuthHandler(authn Authenticator, github AuthURLer, states StateVerifier, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:   authn,
		github: github,
		states: states,
		logger: logger,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HandleLogin checks a username and password.
//
// HTTP: POST /login
// REQUEST BODY: {"username": "alice", "password": "s3cret!"}
// RESPONSE: {"auth_token": "...", "expires_in": 86400, "user_info": {...}}
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(res))
}

// HandleLogout deletes the caller's session. Logging out twice, or without a
// session at all, still succeeds.
//
// HTTP: GET /logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), auth.TokenFromRequest(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateOK)
}

type gitHubURLResponse struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

// HandleGitHubURL starts the OAuth flow. The client redirects the browser to
// url and later posts the code back together with state.
//
// HTTP: GET /auth-login/github/url
func (h *AuthHandler) HandleGitHubURL(w http.ResponseWriter, r *http.Request) {
	state, err := h.states.Issue()
	if err != nil {
		h.logger.Error("issuing OAuth state", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gitHubURLResponse{URL: h.github.AuthURL(state), State: state})
}

type oauthCodeRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

// HandleGitHubLogin logs in with a GitHub authorization code, creating the
// account on first sight.
//
// HTTP: POST /auth-login/github
// REQUEST BODY: {"code": "...", "state": "..."}  (state optional)
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	var req oauthCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := checkState(h.states, req.State); err != nil {
		h.logger.Warn("GitHub login: bad OAuth state")
		writeError(w, err)
		return
	}

	res, err := h.auth.OAuthLogin(r.Context(), req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(res))
}

type sendEmailRequest struct {
	Email string `json:"email"`
}

// HandleSendEmail mails a password reset link.
//
// HTTP: POST /send-email
// REQUEST BODY: {"email": "alice@example.com"}
func (h *AuthHandler) HandleSendEmail(w http.ResponseWriter, r *http.Request) {
	var req sendEmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.auth.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateOK)
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"passwd"`
}

// HandleResetPassword completes a password reset.
//
// HTTP: POST /reset-password
// REQUEST BODY: {"token": "...", "passwd": "n3w-s3cret"}
func (h *AuthHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.auth.CompletePasswordReset(r.Context(), req.Token, req.Password); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateOK)
}

// HandleMe returns the currently authenticated account.
//
// HTTP: GET /me
// Auth: Required (RequireAuth middleware sets the account id in context)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	accountID, ok := auth.AccountIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "valid session token required",
		})
		return
	}

	account, err := h.auth.Me(r.Context(), accountID)
	if err != nil {
		h.logger.Error("HandleMe: account not found", slog.String("accountID", accountID))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}
