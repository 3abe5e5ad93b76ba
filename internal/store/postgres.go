// Package store provides storage backends for EnrollPipe.
//
// This file implements a PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/EnrollPipe/internal/models"
	"github.com/BTreeMap/EnrollPipe/internal/util"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	slog.Debug("Opening Postgres database connection")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	slog.Debug("Postgres database opened")

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	slog.Debug("Postgres ping successful")

	// Run migrations to ensure tables exist
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) ListPrograms() ([]models.Program, error) {
	rows, err := s.db.Query(`SELECT id, program_name, location, start_date, end_date, duration_months, price, available_spots, description, requirements FROM programs ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore ListPrograms query failed", "error", err)
		return nil, fmt.Errorf("failed to query programs: %w", err)
	}
	defer rows.Close()

	var programs []models.Program
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			slog.Error("PostgresStore ListPrograms scan failed", "error", err)
			return nil, err
		}
		programs = append(programs, p)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListPrograms rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate program rows: %w", err)
	}
	slog.Debug("PostgresStore ListPrograms succeeded", "count", len(programs))
	return programs, nil
}

func (s *PostgresStore) GetProgram(id int64) (*models.Program, error) {
	row := s.db.QueryRow(`SELECT id, program_name, location, start_date, end_date, duration_months, price, available_spots, description, requirements FROM programs WHERE id = $1`, id)
	p, err := scanProgramRow(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetProgram not found", "id", id)
		return nil, ErrProgramNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetProgram failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get program %d: %w", id, err)
	}
	return &p, nil
}

func (s *PostgresStore) SaveProgram(p *models.Program) error {
	if p.ID == 0 {
		err := s.db.QueryRow(`INSERT INTO programs (program_name, location, start_date, end_date, duration_months, price, available_spots, description, requirements) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
			p.ProgramName, p.Location, p.StartDate, p.EndDate, p.DurationMonths, p.Price, p.AvailableSpots, nilIfEmpty(p.Description), nilIfEmpty(p.Requirements)).Scan(&p.ID)
		if err != nil {
			slog.Error("PostgresStore SaveProgram insert failed", "error", err, "name", p.ProgramName)
			return fmt.Errorf("failed to insert program %s: %w", p.ProgramName, err)
		}
		slog.Debug("PostgresStore SaveProgram inserted", "id", p.ID, "name", p.ProgramName)
		return nil
	}

	_, err := s.db.Exec(`
		INSERT INTO programs (id, program_name, location, start_date, end_date, duration_months, price, available_spots, description, requirements)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET program_name = EXCLUDED.program_name, location = EXCLUDED.location,
			start_date = EXCLUDED.start_date, end_date = EXCLUDED.end_date, duration_months = EXCLUDED.duration_months,
			price = EXCLUDED.price, available_spots = EXCLUDED.available_spots,
			description = EXCLUDED.description, requirements = EXCLUDED.requirements`,
		p.ID, p.ProgramName, p.Location, p.StartDate, p.EndDate, p.DurationMonths, p.Price, p.AvailableSpots, nilIfEmpty(p.Description), nilIfEmpty(p.Requirements))
	if err != nil {
		slog.Error("PostgresStore SaveProgram upsert failed", "error", err, "id", p.ID)
		return fmt.Errorf("failed to save program %d: %w", p.ID, err)
	}
	slog.Debug("PostgresStore SaveProgram updated", "id", p.ID, "name", p.ProgramName)
	return nil
}

// CreateRegistration inserts a registration and decrements the program's
// remaining spots in one transaction. The conditional UPDATE guarantees a
// single winner for the last spot under concurrent callers.
func (s *PostgresStore) CreateRegistration(reg *models.Registration) error {
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("PostgresStore CreateRegistration begin failed", "error", err)
		return fmt.Errorf("failed to begin registration transaction: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRow(`SELECT id FROM registrations WHERE wa_id = $1`, reg.WaID).Scan(&existing)
	if err == nil {
		slog.Debug("PostgresStore CreateRegistration duplicate", "waID", reg.WaID)
		return ErrAlreadyRegistered
	}
	if err != sql.ErrNoRows {
		slog.Error("PostgresStore CreateRegistration duplicate check failed", "error", err, "waID", reg.WaID)
		return fmt.Errorf("failed to check existing registration: %w", err)
	}

	res, err := tx.Exec(`UPDATE programs SET available_spots = available_spots - 1 WHERE id = $1 AND available_spots > 0`, reg.ProgramID)
	if err != nil {
		slog.Error("PostgresStore CreateRegistration spot decrement failed", "error", err, "programID", reg.ProgramID)
		return fmt.Errorf("failed to decrement spots for program %d: %w", reg.ProgramID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		var id int64
		if err := tx.QueryRow(`SELECT id FROM programs WHERE id = $1`, reg.ProgramID).Scan(&id); err == sql.ErrNoRows {
			return ErrProgramNotFound
		}
		slog.Debug("PostgresStore CreateRegistration no spots", "programID", reg.ProgramID)
		return ErrNoSpotsAvailable
	}

	if reg.ID == "" {
		reg.ID = util.GenerateRegistrationID()
	}
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = time.Now().UTC()
	}
	_, err = tx.Exec(`INSERT INTO registrations (id, program_id, wa_id, first_name, last_name, email, phone, age, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		reg.ID, reg.ProgramID, reg.WaID, reg.FirstName, reg.LastName, reg.Email, reg.Phone, reg.Age, reg.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateRegistration insert failed", "error", err, "waID", reg.WaID)
		return fmt.Errorf("failed to insert registration for %s: %w", reg.WaID, err)
	}

	if err := tx.Commit(); err != nil {
		slog.Error("PostgresStore CreateRegistration commit failed", "error", err, "waID", reg.WaID)
		return fmt.Errorf("failed to commit registration: %w", err)
	}
	slog.Debug("PostgresStore CreateRegistration succeeded", "waID", reg.WaID, "programID", reg.ProgramID, "regID", reg.ID)
	return nil
}

func (s *PostgresStore) GetRegistrationByWaID(waID string) (*models.Registration, error) {
	row := s.db.QueryRow(`SELECT id, program_id, wa_id, first_name, last_name, email, phone, age, created_at FROM registrations WHERE wa_id = $1`, waID)
	var r models.Registration
	err := row.Scan(&r.ID, &r.ProgramID, &r.WaID, &r.FirstName, &r.LastName, &r.Email, &r.Phone, &r.Age, &r.CreatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetRegistrationByWaID not found", "waID", waID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetRegistrationByWaID failed", "error", err, "waID", waID)
		return nil, fmt.Errorf("failed to get registration for %s: %w", waID, err)
	}
	return &r, nil
}

func (s *PostgresStore) ListRegistrations() ([]models.Registration, error) {
	rows, err := s.db.Query(`SELECT id, program_id, wa_id, first_name, last_name, email, phone, age, created_at FROM registrations ORDER BY created_at`)
	if err != nil {
		slog.Error("PostgresStore ListRegistrations query failed", "error", err)
		return nil, fmt.Errorf("failed to query registrations: %w", err)
	}
	defer rows.Close()

	var regs []models.Registration
	for rows.Next() {
		var r models.Registration
		if err := rows.Scan(&r.ID, &r.ProgramID, &r.WaID, &r.FirstName, &r.LastName, &r.Email, &r.Phone, &r.Age, &r.CreatedAt); err != nil {
			slog.Error("PostgresStore ListRegistrations scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan registration row: %w", err)
		}
		regs = append(regs, r)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListRegistrations rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate registration rows: %w", err)
	}
	slog.Debug("PostgresStore ListRegistrations succeeded", "count", len(regs))
	return regs, nil
}

// GetSession retrieves the enrollment session for a user.
func (s *PostgresStore) GetSession(waID string) (*models.UserSession, error) {
	query := `SELECT wa_id, step, personal_info, created_at, updated_at FROM sessions WHERE wa_id = $1`

	var sess models.UserSession
	var infoJSON sql.NullString
	err := s.db.QueryRow(query, waID).Scan(&sess.WaID, &sess.Step, &infoJSON, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetSession not found", "waID", waID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "waID", waID)
		return nil, fmt.Errorf("failed to get session for %s: %w", waID, err)
	}

	sess.PersonalInfo = make(map[string]string)
	if infoJSON.Valid && infoJSON.String != "" {
		if err := json.Unmarshal([]byte(infoJSON.String), &sess.PersonalInfo); err != nil {
			slog.Error("PostgresStore GetSession JSON unmarshal failed", "error", err, "waID", waID)
			// Continue with empty map rather than failing
			sess.PersonalInfo = make(map[string]string)
		}
	}
	slog.Debug("PostgresStore GetSession found", "waID", waID, "step", sess.Step)
	return &sess, nil
}

// SaveSession stores or updates the enrollment session for a user.
func (s *PostgresStore) SaveSession(sess models.UserSession) error {
	query := `
		INSERT INTO sessions (wa_id, step, personal_info, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (wa_id) DO UPDATE SET step = EXCLUDED.step, personal_info = EXCLUDED.personal_info, updated_at = EXCLUDED.updated_at`

	var infoJSON string
	if len(sess.PersonalInfo) > 0 {
		jsonBytes, err := json.Marshal(sess.PersonalInfo)
		if err != nil {
			slog.Error("PostgresStore SaveSession JSON marshal failed", "error", err, "waID", sess.WaID)
			return err
		}
		infoJSON = string(jsonBytes)
	}

	_, err := s.db.Exec(query, sess.WaID, sess.Step, nilIfEmpty(infoJSON), sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveSession failed", "error", err, "waID", sess.WaID)
		return fmt.Errorf("failed to save session for %s: %w", sess.WaID, err)
	}
	slog.Debug("PostgresStore SaveSession succeeded", "waID", sess.WaID, "step", sess.Step)
	return nil
}

func (s *PostgresStore) GetConversation(waID string) ([]models.ConversationMessage, error) {
	rows, err := s.db.Query(`SELECT role, content, time FROM conversations WHERE wa_id = $1 ORDER BY seq`, waID)
	if err != nil {
		slog.Error("PostgresStore GetConversation query failed", "error", err, "waID", waID)
		return nil, fmt.Errorf("failed to query conversation for %s: %w", waID, err)
	}
	defer rows.Close()

	var msgs []models.ConversationMessage
	for rows.Next() {
		var m models.ConversationMessage
		if err := rows.Scan(&m.Role, &m.Content, &m.Time); err != nil {
			slog.Error("PostgresStore GetConversation scan failed", "error", err, "waID", waID)
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation rows: %w", err)
	}
	slog.Debug("PostgresStore GetConversation succeeded", "waID", waID, "count", len(msgs))
	return msgs, nil
}

func (s *PostgresStore) AppendConversation(waID string, msgs ...models.ConversationMessage) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin conversation transaction: %w", err)
	}
	defer tx.Rollback()

	for _, m := range msgs {
		if _, err := tx.Exec(`INSERT INTO conversations (wa_id, role, content, time) VALUES ($1, $2, $3, $4)`, waID, m.Role, m.Content, m.Time); err != nil {
			slog.Error("PostgresStore AppendConversation insert failed", "error", err, "waID", waID)
			return fmt.Errorf("failed to append conversation for %s: %w", waID, err)
		}
	}

	// Trim old entries beyond the cap.
	_, err = tx.Exec(`DELETE FROM conversations WHERE wa_id = $1 AND seq NOT IN (SELECT seq FROM conversations WHERE wa_id = $2 ORDER BY seq DESC LIMIT $3)`, waID, waID, MaxConversationMessages)
	if err != nil {
		slog.Error("PostgresStore AppendConversation trim failed", "error", err, "waID", waID)
		return fmt.Errorf("failed to trim conversation for %s: %w", waID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit conversation append: %w", err)
	}
	slog.Debug("PostgresStore AppendConversation succeeded", "waID", waID, "appended", len(msgs))
	return nil
}

func (s *PostgresStore) ClearConversation(waID string) error {
	_, err := s.db.Exec(`DELETE FROM conversations WHERE wa_id = $1`, waID)
	if err != nil {
		slog.Error("PostgresStore ClearConversation failed", "error", err, "waID", waID)
		return fmt.Errorf("failed to clear conversation for %s: %w", waID, err)
	}
	slog.Debug("PostgresStore ClearConversation succeeded", "waID", waID)
	return nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	} else {
		slog.Debug("Postgres database connection closed successfully")
	}
	return err
}
