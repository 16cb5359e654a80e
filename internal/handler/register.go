package handler

import (
	"log/slog"
	"net/http"
)

// RegisterHandler creates accounts.
type RegisterHandler struct {
	register Registrar
	states   StateVerifier
	logger   *slog.Logger
}

func NewRegisterHandler(register Registrar, states StateVerifier, logger *slog.Logger) *RegisterHandler {
	return &RegisterHandler{
		register: register,
		states:   states,
		logger:   logger,
	}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleRegister creates a password account. It does not log the caller in.
//
// HTTP: POST /register
// REQUEST BODY: {"username": "alice", "email": "alice@example.com", "password": "s3cret!"}
// RESPONSE: 201 with the new account
func (h *RegisterHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	account, err := h.register.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

// HandleRegisterGitHub creates an account from a GitHub code and logs it in.
//
// HTTP: POST /register/github
// REQUEST BODY: {"code": "...", "state": "..."}
func (h *RegisterHandler) HandleRegisterGitHub(w http.ResponseWriter, r *http.Request) {
	var req oauthCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := checkState(h.states, req.State); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.register.RegisterViaOAuth(r.Context(), req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse(res))
}

type kcashRequest struct {
	Code   string `json:"code"`
	State  string `json:"state"`
	Addr   string `json:"addr"`
	Invite string `json:"invite"`
}

// HandleRegisterKCash is GitHub registration with the star-for-dust reward.
//
// HTTP: POST /register/kcash
// REQUEST BODY: {"code": "...", "addr": "0x...", "invite": "..."}
func (h *RegisterHandler) HandleRegisterKCash(w http.ResponseWriter, r *http.Request) {
	var req kcashRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := checkState(h.states, req.State); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.register.RegisterWithExternalReward(r.Context(), req.Code, req.Addr, req.Invite)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse(res))
}

type claimRequest struct {
	Code        string `json:"code"`
	State       string `json:"state"`
	AuthorLogin string `json:"author_login"`
}

// HandleClaim accepts a claim for a GitHub author's contributions. Nothing is
// credited yet, so the answer is 202.
//
// HTTP: POST /register/claim
// REQUEST BODY: {"code": "...", "author_login": "torvalds"}
func (h *RegisterHandler) HandleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := checkState(h.states, req.State); err != nil {
		writeError(w, err)
		return
	}

	if err := h.register.ClaimViaOAuth(r.Context(), req.Code, req.AuthorLogin); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, stateOK)
}
