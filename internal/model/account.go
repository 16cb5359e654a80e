// Package model defines the data structures used throughout the application.
package model

import "time"

// Account is a registered user.
//
// Email and GitAccount are optional but unique when present; the repository
// stores "" as NULL so the UNIQUE constraints only apply to real values.
//
// PasswordHash is empty for accounts created through GitHub; those accounts
// cannot use password login until they complete a password reset.
type Account struct {
	ID             string    `json:"id"              db:"id"`
	Username       string    `json:"username"        db:"username"`
	Email          string    `json:"email"           db:"email"`
	GitAccount     string    `json:"git_account"     db:"git_account"` // GitHub login
	GitHubLink     string    `json:"github_link"     db:"github_link"` // profile html_url
	Avatar         string    `json:"avatar"          db:"avatar"`
	PasswordHash   string    `json:"-"               db:"password_hash"`
	OwnedDust      int64     `json:"owned_dust"      db:"owned_dust"`
	PlanetDustSum  int64     `json:"planet_dust_sum" db:"planet_dust_sum"` // received by owned planets
	GiftAddr       string    `json:"-"               db:"gift_addr"`
	InvitationCode string    `json:"-"               db:"invitation_code"`
	CreatedAt      time.Time `json:"created_at"      db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"      db:"updated_at"`
}

// HasPassword reports whether the account can log in with a password.
func (a *Account) HasPassword() bool {
	return a.PasswordHash != ""
}
