// Package store provides storage backends for EnrollPipe.
//
// It persists the program catalog, student registrations, per-user enrollment
// sessions, and conversation transcripts. Backends: in-memory (tests),
// SQLite, and PostgreSQL.
package store

import (
	"errors"
	"strings"

	"github.com/BTreeMap/EnrollPipe/internal/models"
)

// Sentinel errors for registration outcomes. Callers distinguish these with
// errors.Is to produce the right user-facing message.
var (
	// ErrProgramNotFound indicates the referenced program does not exist.
	ErrProgramNotFound = errors.New("program not found")
	// ErrNoSpotsAvailable indicates the program has no remaining capacity.
	ErrNoSpotsAvailable = errors.New("no spots available")
	// ErrAlreadyRegistered indicates the user already holds a registration.
	ErrAlreadyRegistered = errors.New("user already registered")
)

// MaxConversationMessages caps how many transcript entries are retained per user.
const MaxConversationMessages = 40

// Store defines the persistence operations shared by all backends.
type Store interface {
	// Program catalog
	ListPrograms() ([]models.Program, error)
	GetProgram(id int64) (*models.Program, error)
	SaveProgram(p *models.Program) error

	// Registrations. CreateRegistration atomically decrements the program's
	// available spots; under concurrency exactly one caller wins the last spot.
	CreateRegistration(reg *models.Registration) error
	GetRegistrationByWaID(waID string) (*models.Registration, error)
	ListRegistrations() ([]models.Registration, error)

	// Enrollment sessions. GetSession returns (nil, nil) when absent.
	GetSession(waID string) (*models.UserSession, error)
	SaveSession(sess models.UserSession) error

	// Conversation transcripts, capped at MaxConversationMessages.
	GetConversation(waID string) ([]models.ConversationMessage, error)
	AppendConversation(waID string, msgs ...models.ConversationMessage) error
	ClearConversation(waID string) error

	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	// DSN is the data source name (Postgres URL or SQLite file path).
	DSN string
}

// Option configures store creation.
type Option func(*Opts)

// WithPostgresDSN sets a PostgreSQL DSN for the store.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets an SQLite file path DSN for the store.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL-style DSNs and "sqlite3"
// otherwise. SQLite DSNs are plain file paths.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite3"
}
