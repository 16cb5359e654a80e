package model

import "time"

// BuildRecord is one contribution. Records are append-only.
//
// PlanetDust snapshots the planet's total right after this contribution
// was committed.
type BuildRecord struct {
	ID         string    `json:"id"          db:"id"`
	BuilderID  string    `json:"builder_id"  db:"builder_id"`
	PlanetID   string    `json:"planet_id"   db:"planet_id"`
	DustNum    int64     `json:"dust_num"    db:"dust_num"`
	PlanetDust int64     `json:"planet_dust" db:"planet_dust"`
	CreatedAt  time.Time `json:"created_at"  db:"created_at"`
}
