package models

import (
	"errors"
	"time"
)

// Program represents a bootcamp program in the catalog.
type Program struct {
	ID             int64   `json:"id"`
	ProgramName    string  `json:"program_name"`
	Location       string  `json:"location"`
	StartDate      string  `json:"start_date"` // YYYY-MM-DD
	EndDate        string  `json:"end_date"`   // YYYY-MM-DD
	DurationMonths int     `json:"duration_months"`
	Price          float64 `json:"price"`
	AvailableSpots int     `json:"available_spots"`
	Description    string  `json:"description,omitempty"`
	Requirements   string  `json:"requirements,omitempty"`
}

// ProgramMatch pairs a program with its fuzzy-search relevance score.
type ProgramMatch struct {
	Program Program `json:"program"`
	Score   float64 `json:"score"`
}

// Registration represents a confirmed student registration for a program.
type Registration struct {
	ID        string    `json:"id"`
	ProgramID int64     `json:"program_id"`
	WaID      string    `json:"wa_id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Age       string    `json:"age"`
	CreatedAt time.Time `json:"created_at"`
}

// ProgramRequest represents the payload for creating a catalog program.
type ProgramRequest struct {
	ProgramName    string  `json:"program_name"`
	Location       string  `json:"location"`
	StartDate      string  `json:"start_date"`
	EndDate        string  `json:"end_date"`
	DurationMonths int     `json:"duration_months"`
	Price          float64 `json:"price"`
	AvailableSpots int     `json:"available_spots"`
	Description    string  `json:"description,omitempty"`
	Requirements   string  `json:"requirements,omitempty"`
}

// Validate validates a ProgramRequest.
func (r *ProgramRequest) Validate() error {
	if r.ProgramName == "" {
		return errors.New("program_name is required")
	}
	if r.Location == "" {
		return errors.New("location is required")
	}
	if r.AvailableSpots < 0 {
		return errors.New("available_spots cannot be negative")
	}
	if r.StartDate != "" {
		if _, err := time.Parse("2006-01-02", r.StartDate); err != nil {
			return errors.New("start_date must be in YYYY-MM-DD format")
		}
	}
	if r.EndDate != "" {
		if _, err := time.Parse("2006-01-02", r.EndDate); err != nil {
			return errors.New("end_date must be in YYYY-MM-DD format")
		}
	}
	return nil
}
