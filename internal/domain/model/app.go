package model

import "time"

// App is the application under UAT review. It is the identity anchor that
// multiple review runs attach to; an app is created once and never deleted
// while runs reference it.
type App struct {
	ID         int64
	Name       string // Display name of the submitted application.
	ExternalID string // Submitter-side identifier (ticket number, registry id).
	OwnerEmail string // Contact for the submitting team.
	Notes      string // Free-form metadata captured at intake.
	CreatedAt  time.Time
}
