package model

import "time"

// PlanetStatus is the funding state of a planet.
type PlanetStatus string

const (
	// PlanetActive planets accept contributions.
	PlanetActive PlanetStatus = "active"
	// PlanetUnshelved is terminal: the funding window has closed.
	PlanetUnshelved PlanetStatus = "unshelved"
)

// Planet is a fundable project. Name, DemoURL and GithubURL are each unique
// across all planets.
type Planet struct {
	ID          string       `json:"id"          db:"id"`
	OwnerID     string       `json:"owner_id"    db:"owner_id"`
	Name        string       `json:"name"        db:"name"`
	Email       string       `json:"email"       db:"email"`
	Keywords    string       `json:"keywords"    db:"keywords"`
	Description string       `json:"description" db:"description"`
	DemoURL     string       `json:"demo_url"    db:"demo_url"`
	GithubURL   string       `json:"github_url"  db:"github_url"`
	TeamIntro   string       `json:"team_intro"  db:"team_intro"`
	DustNum     int64        `json:"dust_num"    db:"dust_num"`
	BuilderNum  int64        `json:"builder_num" db:"builder_num"`
	Status      PlanetStatus `json:"status"      db:"status"`
	CreatedAt   time.Time    `json:"created_at"  db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"  db:"updated_at"`
}

// FundingWindowClosed reports whether contributions must be refused at now.
// The window is open for exactly window after CreatedAt, inclusive.
func (p *Planet) FundingWindowClosed(now time.Time, window time.Duration) bool {
	return p.Status == PlanetUnshelved || now.Sub(p.CreatedAt) > window
}
