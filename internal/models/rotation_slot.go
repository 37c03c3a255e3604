package models

import "time"

// RotationSlot is a clinical rotation offered by a site.
type RotationSlot struct {
	ID          string    `db:"id" json:"id"`
	SiteID      string    `db:"site_id" json:"site_id"`
	PreceptorID *string   `db:"preceptor_id" json:"preceptor_id,omitempty"`
	Name        string    `db:"name" json:"name"`
	StartDate   time.Time `db:"start_date" json:"start_date"`
	EndDate     time.Time `db:"end_date" json:"end_date"`
}
