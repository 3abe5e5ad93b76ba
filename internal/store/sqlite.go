// Package store provides storage backends for EnrollPipe.
//
// This file implements an SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/EnrollPipe/internal/models"
	"github.com/BTreeMap/EnrollPipe/internal/util"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	slog.Debug("SQLite database opened")

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}
	slog.Debug("SQLite ping successful")

	// SQLite allows one writer at a time; a single pooled connection
	// serializes concurrent transactions instead of surfacing busy errors.
	db.SetMaxOpenConns(1)

	// Run migrations to ensure tables exist
	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) ListPrograms() ([]models.Program, error) {
	rows, err := s.db.Query(`SELECT id, program_name, location, start_date, end_date, duration_months, price, available_spots, description, requirements FROM programs ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore ListPrograms query failed", "error", err)
		return nil, fmt.Errorf("failed to query programs: %w", err)
	}
	defer rows.Close()

	var programs []models.Program
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			slog.Error("SQLiteStore ListPrograms scan failed", "error", err)
			return nil, err
		}
		programs = append(programs, p)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListPrograms rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate program rows: %w", err)
	}
	slog.Debug("SQLiteStore ListPrograms succeeded", "count", len(programs))
	return programs, nil
}

func (s *SQLiteStore) GetProgram(id int64) (*models.Program, error) {
	row := s.db.QueryRow(`SELECT id, program_name, location, start_date, end_date, duration_months, price, available_spots, description, requirements FROM programs WHERE id = ?`, id)
	p, err := scanProgramRow(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetProgram not found", "id", id)
		return nil, ErrProgramNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetProgram failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get program %d: %w", id, err)
	}
	return &p, nil
}

func (s *SQLiteStore) SaveProgram(p *models.Program) error {
	if p.ID == 0 {
		res, err := s.db.Exec(`INSERT INTO programs (program_name, location, start_date, end_date, duration_months, price, available_spots, description, requirements) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ProgramName, p.Location, p.StartDate, p.EndDate, p.DurationMonths, p.Price, p.AvailableSpots, nilIfEmpty(p.Description), nilIfEmpty(p.Requirements))
		if err != nil {
			slog.Error("SQLiteStore SaveProgram insert failed", "error", err, "name", p.ProgramName)
			return fmt.Errorf("failed to insert program %s: %w", p.ProgramName, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			slog.Error("SQLiteStore SaveProgram LastInsertId failed", "error", err)
			return err
		}
		p.ID = id
		slog.Debug("SQLiteStore SaveProgram inserted", "id", p.ID, "name", p.ProgramName)
		return nil
	}

	_, err := s.db.Exec(`INSERT OR REPLACE INTO programs (id, program_name, location, start_date, end_date, duration_months, price, available_spots, description, requirements) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ProgramName, p.Location, p.StartDate, p.EndDate, p.DurationMonths, p.Price, p.AvailableSpots, nilIfEmpty(p.Description), nilIfEmpty(p.Requirements))
	if err != nil {
		slog.Error("SQLiteStore SaveProgram upsert failed", "error", err, "id", p.ID)
		return fmt.Errorf("failed to save program %d: %w", p.ID, err)
	}
	slog.Debug("SQLiteStore SaveProgram updated", "id", p.ID, "name", p.ProgramName)
	return nil
}

// CreateRegistration inserts a registration and decrements the program's
// remaining spots in one transaction. The conditional UPDATE guarantees a
// single winner for the last spot under concurrent callers.
func (s *SQLiteStore) CreateRegistration(reg *models.Registration) error {
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("SQLiteStore CreateRegistration begin failed", "error", err)
		return fmt.Errorf("failed to begin registration transaction: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRow(`SELECT id FROM registrations WHERE wa_id = ?`, reg.WaID).Scan(&existing)
	if err == nil {
		slog.Debug("SQLiteStore CreateRegistration duplicate", "waID", reg.WaID)
		return ErrAlreadyRegistered
	}
	if err != sql.ErrNoRows {
		slog.Error("SQLiteStore CreateRegistration duplicate check failed", "error", err, "waID", reg.WaID)
		return fmt.Errorf("failed to check existing registration: %w", err)
	}

	res, err := tx.Exec(`UPDATE programs SET available_spots = available_spots - 1 WHERE id = ? AND available_spots > 0`, reg.ProgramID)
	if err != nil {
		slog.Error("SQLiteStore CreateRegistration spot decrement failed", "error", err, "programID", reg.ProgramID)
		return fmt.Errorf("failed to decrement spots for program %d: %w", reg.ProgramID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		var id int64
		if err := tx.QueryRow(`SELECT id FROM programs WHERE id = ?`, reg.ProgramID).Scan(&id); err == sql.ErrNoRows {
			return ErrProgramNotFound
		}
		slog.Debug("SQLiteStore CreateRegistration no spots", "programID", reg.ProgramID)
		return ErrNoSpotsAvailable
	}

	if reg.ID == "" {
		reg.ID = util.GenerateRegistrationID()
	}
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = time.Now().UTC()
	}
	_, err = tx.Exec(`INSERT INTO registrations (id, program_id, wa_id, first_name, last_name, email, phone, age, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		reg.ID, reg.ProgramID, reg.WaID, reg.FirstName, reg.LastName, reg.Email, reg.Phone, reg.Age, reg.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateRegistration insert failed", "error", err, "waID", reg.WaID)
		return fmt.Errorf("failed to insert registration for %s: %w", reg.WaID, err)
	}

	if err := tx.Commit(); err != nil {
		slog.Error("SQLiteStore CreateRegistration commit failed", "error", err, "waID", reg.WaID)
		return fmt.Errorf("failed to commit registration: %w", err)
	}
	slog.Debug("SQLiteStore CreateRegistration succeeded", "waID", reg.WaID, "programID", reg.ProgramID, "regID", reg.ID)
	return nil
}

func (s *SQLiteStore) GetRegistrationByWaID(waID string) (*models.Registration, error) {
	row := s.db.QueryRow(`SELECT id, program_id, wa_id, first_name, last_name, email, phone, age, created_at FROM registrations WHERE wa_id = ?`, waID)
	var r models.Registration
	err := row.Scan(&r.ID, &r.ProgramID, &r.WaID, &r.FirstName, &r.LastName, &r.Email, &r.Phone, &r.Age, &r.CreatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetRegistrationByWaID not found", "waID", waID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetRegistrationByWaID failed", "error", err, "waID", waID)
		return nil, fmt.Errorf("failed to get registration for %s: %w", waID, err)
	}
	return &r, nil
}

func (s *SQLiteStore) ListRegistrations() ([]models.Registration, error) {
	rows, err := s.db.Query(`SELECT id, program_id, wa_id, first_name, last_name, email, phone, age, created_at FROM registrations ORDER BY created_at`)
	if err != nil {
		slog.Error("SQLiteStore ListRegistrations query failed", "error", err)
		return nil, fmt.Errorf("failed to query registrations: %w", err)
	}
	defer rows.Close()

	var regs []models.Registration
	for rows.Next() {
		var r models.Registration
		if err := rows.Scan(&r.ID, &r.ProgramID, &r.WaID, &r.FirstName, &r.LastName, &r.Email, &r.Phone, &r.Age, &r.CreatedAt); err != nil {
			slog.Error("SQLiteStore ListRegistrations scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan registration row: %w", err)
		}
		regs = append(regs, r)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListRegistrations rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate registration rows: %w", err)
	}
	slog.Debug("SQLiteStore ListRegistrations succeeded", "count", len(regs))
	return regs, nil
}

// GetSession retrieves the enrollment session for a user.
func (s *SQLiteStore) GetSession(waID string) (*models.UserSession, error) {
	query := `SELECT wa_id, step, personal_info, created_at, updated_at FROM sessions WHERE wa_id = ?`

	var sess models.UserSession
	var infoJSON string
	err := s.db.QueryRow(query, waID).Scan(&sess.WaID, &sess.Step, &infoJSON, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetSession not found", "waID", waID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "waID", waID)
		return nil, fmt.Errorf("failed to get session for %s: %w", waID, err)
	}

	sess.PersonalInfo = make(map[string]string)
	if infoJSON != "" {
		if err := json.Unmarshal([]byte(infoJSON), &sess.PersonalInfo); err != nil {
			slog.Error("SQLiteStore GetSession JSON unmarshal failed", "error", err, "waID", waID)
			// Continue with empty map rather than failing
			sess.PersonalInfo = make(map[string]string)
		}
	}
	slog.Debug("SQLiteStore GetSession found", "waID", waID, "step", sess.Step)
	return &sess, nil
}

// SaveSession stores or updates the enrollment session for a user.
func (s *SQLiteStore) SaveSession(sess models.UserSession) error {
	query := `
		INSERT OR REPLACE INTO sessions (wa_id, step, personal_info, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`

	var infoJSON string
	if len(sess.PersonalInfo) > 0 {
		jsonBytes, err := json.Marshal(sess.PersonalInfo)
		if err != nil {
			slog.Error("SQLiteStore SaveSession JSON marshal failed", "error", err, "waID", sess.WaID)
			return err
		}
		infoJSON = string(jsonBytes)
	}

	_, err := s.db.Exec(query, sess.WaID, sess.Step, infoJSON, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveSession failed", "error", err, "waID", sess.WaID)
		return fmt.Errorf("failed to save session for %s: %w", sess.WaID, err)
	}
	slog.Debug("SQLiteStore SaveSession succeeded", "waID", sess.WaID, "step", sess.Step)
	return nil
}

func (s *SQLiteStore) GetConversation(waID string) ([]models.ConversationMessage, error) {
	rows, err := s.db.Query(`SELECT role, content, time FROM conversations WHERE wa_id = ? ORDER BY seq`, waID)
	if err != nil {
		slog.Error("SQLiteStore GetConversation query failed", "error", err, "waID", waID)
		return nil, fmt.Errorf("failed to query conversation for %s: %w", waID, err)
	}
	defer rows.Close()

	var msgs []models.ConversationMessage
	for rows.Next() {
		var m models.ConversationMessage
		if err := rows.Scan(&m.Role, &m.Content, &m.Time); err != nil {
			slog.Error("SQLiteStore GetConversation scan failed", "error", err, "waID", waID)
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation rows: %w", err)
	}
	slog.Debug("SQLiteStore GetConversation succeeded", "waID", waID, "count", len(msgs))
	return msgs, nil
}

func (s *SQLiteStore) AppendConversation(waID string, msgs ...models.ConversationMessage) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin conversation transaction: %w", err)
	}
	defer tx.Rollback()

	for _, m := range msgs {
		if _, err := tx.Exec(`INSERT INTO conversations (wa_id, role, content, time) VALUES (?, ?, ?, ?)`, waID, m.Role, m.Content, m.Time); err != nil {
			slog.Error("SQLiteStore AppendConversation insert failed", "error", err, "waID", waID)
			return fmt.Errorf("failed to append conversation for %s: %w", waID, err)
		}
	}

	// Trim old entries beyond the cap.
	_, err = tx.Exec(`DELETE FROM conversations WHERE wa_id = ? AND seq NOT IN (SELECT seq FROM conversations WHERE wa_id = ? ORDER BY seq DESC LIMIT ?)`, waID, waID, MaxConversationMessages)
	if err != nil {
		slog.Error("SQLiteStore AppendConversation trim failed", "error", err, "waID", waID)
		return fmt.Errorf("failed to trim conversation for %s: %w", waID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit conversation append: %w", err)
	}
	slog.Debug("SQLiteStore AppendConversation succeeded", "waID", waID, "appended", len(msgs))
	return nil
}

func (s *SQLiteStore) ClearConversation(waID string) error {
	_, err := s.db.Exec(`DELETE FROM conversations WHERE wa_id = ?`, waID)
	if err != nil {
		slog.Error("SQLiteStore ClearConversation failed", "error", err, "waID", waID)
		return fmt.Errorf("failed to clear conversation for %s: %w", waID, err)
	}
	slog.Debug("SQLiteStore ClearConversation succeeded", "waID", waID)
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	} else {
		slog.Debug("SQLite database connection closed successfully")
	}
	return err
}
