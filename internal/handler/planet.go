package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/dust/internal/apperror"
	"github.com/sakif/dust/internal/auth"
	"github.com/sakif/dust/internal/model"
	"github.com/sakif/dust/internal/service"
)

// PlanetHandler serves planet setup, contributions and the public views.
type PlanetHandler struct {
	planets Planets
	ledger  Contributor
	logger  *slog.Logger
}

func NewPlanetHandler(planets Planets, ledger Contributor, logger *slog.Logger) *PlanetHandler {
	return &PlanetHandler{
		planets: planets,
		ledger:  ledger,
		logger:  logger,
	}
}

type setupPlanetRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Keywords    string `json:"keywords"`
	Description string `json:"description"`
	DemoURL     string `json:"demo_url"`
	GithubURL   string `json:"github_url"`
	TeamIntro   string `json:"team_intro"`
}

// HandleSetup creates a planet (201) or, when the body carries an id, updates
// one the caller owns (200).
//
// HTTP: POST /planet/setup
// Auth: Required
func (h *PlanetHandler) HandleSetup(w http.ResponseWriter, r *http.Request) {
	accountID, ok := auth.AccountIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized(apperror.CodeUnauthenticated, "valid session token required"))
		return
	}

	var req setupPlanetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	planet, created, err := h.planets.SetupPlanet(r.Context(), accountID, service.PlanetInput(req))
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, planet)
}

type buildRequest struct {
	PlanetName string `json:"planet_name"`
	DustNum    int64  `json:"dust_num"`
}

// HandleBuild contributes dust from the caller to a planet.
//
// HTTP: POST /planet/build
// Auth: Required
// REQUEST BODY: {"planet_name": "rocket", "dust_num": 50}
// RESPONSE: 201 with the build record
func (h *PlanetHandler) HandleBuild(w http.ResponseWriter, r *http.Request) {
	accountID, ok := auth.AccountIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized(apperror.CodeUnauthenticated, "valid session token required"))
		return
	}

	var req buildRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	record, err := h.ledger.Contribute(r.Context(), accountID, req.PlanetName, req.DustNum)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// HandleList returns planets newest first.
//
// HTTP: GET /planets?limit=20&offset=0
func (h *PlanetHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, err)
		return
	}

	planets, err := h.planets.ListPlanets(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if planets == nil {
		planets = []model.Planet{}
	}
	writeJSON(w, http.StatusOK, planets)
}

// HandleGet returns one planet.
//
// HTTP: GET /planets/{name}
func (h *PlanetHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	planet, err := h.planets.GetPlanet(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, planet)
}

// HandleBuilds returns a planet's build records, oldest first.
//
// HTTP: GET /planets/{name}/builds
func (h *PlanetHandler) HandleBuilds(w http.ResponseWriter, r *http.Request) {
	builds, err := h.planets.ListBuilds(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	if builds == nil {
		builds = []model.BuildRecord{}
	}
	writeJSON(w, http.StatusOK, builds)
}

// queryInt parses an optional integer query parameter; absent means 0.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperror.ValidationFailed(name, name+" must be an integer")
	}
	return n, nil
}
