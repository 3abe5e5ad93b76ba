package store

import (
	"database/sql"
	"fmt"

	"github.com/BTreeMap/EnrollPipe/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanProgram scans a Program from sql.Rows.
func scanProgram(rows *sql.Rows) (models.Program, error) {
	var p models.Program
	var description, requirements sql.NullString
	err := rows.Scan(
		&p.ID, &p.ProgramName, &p.Location, &p.StartDate, &p.EndDate,
		&p.DurationMonths, &p.Price, &p.AvailableSpots, &description, &requirements,
	)
	if err != nil {
		return p, fmt.Errorf("scan program failed: %w", err)
	}
	p.Description = description.String
	p.Requirements = requirements.String
	return p, nil
}

// scanProgramRow scans a Program from a single sql.Row.
func scanProgramRow(row *sql.Row) (models.Program, error) {
	var p models.Program
	var description, requirements sql.NullString
	err := row.Scan(
		&p.ID, &p.ProgramName, &p.Location, &p.StartDate, &p.EndDate,
		&p.DurationMonths, &p.Price, &p.AvailableSpots, &description, &requirements,
	)
	if err != nil {
		return p, err
	}
	p.Description = description.String
	p.Requirements = requirements.String
	return p, nil
}
