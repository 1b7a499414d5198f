package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"wavectl/internal/run"
)

var (
	// ErrRecorder is matched by every backend failure.
	ErrRecorder = errors.New("recorder failure")
	// ErrRunNotFound is returned for unknown run IDs.
	ErrRunNotFound = errors.New("run not found")
)

// RecorderError wraps a backend failure with the operation that hit it.
type RecorderError struct {
	Op  string
	Err error
}

func (e *RecorderError) Error() string {
	return fmt.Sprintf("recorder %s: %v", e.Op, e.Err)
}

func (e *RecorderError) Unwrap() []error {
	return []error{ErrRecorder, e.Err}
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *RecorderError
	if errors.As(err, &re) || errors.Is(err, ErrRunNotFound) {
		return err
	}
	return &RecorderError{Op: op, Err: err}
}

// Recorder persists deployment runs as a header plus an append-only list of
// transitions. Append is synchronous: when it returns, the transition is
// durable and visible to Load.
type Recorder interface {
	// CreateRun stores the run header. Components listed in the header
	// start in the state they carry (normally Pending).
	CreateRun(ctx context.Context, r *run.DeploymentRun) error
	// Append assigns the next sequence number and a timestamp (when unset)
	// and persists t. It returns the stored transition.
	Append(ctx context.Context, runID string, t run.Transition) (run.Transition, error)
	// SetStatus updates the run status without finishing it.
	SetStatus(ctx context.Context, runID string, status run.Status) error
	// FinishRun records the terminal status of a run.
	FinishRun(ctx context.Context, runID string, status run.Status, runErr string, at time.Time) error
	// Load replays the run's transitions onto its header.
	Load(ctx context.Context, runID string) (*run.DeploymentRun, error)
	// LatestHealthy returns when component last became Healthy in any run,
	// ignoring healthy transitions later undone by a rollback.
	LatestHealthy(ctx context.Context, component string) (time.Time, bool, error)
	// ListRuns returns the newest runs first. limit <= 0 means all.
	ListRuns(ctx context.Context, limit int) ([]run.Summary, error)
	Close() error
}

// Backend names accepted by Open.
const (
	TypeMemory   = "memory"
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
	TypeBadger   = "badger"
)

// Config selects and configures a backend.
type Config struct {
	Type string `yaml:"type" mapstructure:"type" validate:"omitempty,oneof=memory sqlite postgres badger"`
	// DSN is a file path for sqlite, a connection URL for postgres and a
	// directory for badger.
	DSN string `yaml:"dsn" mapstructure:"dsn"`
}

// DefaultDSN is where the sqlite and badger backends store runs when no DSN
// is configured.
func DefaultDSN(kind string) string {
	base := ".wavectl"
	if home, err := os.UserHomeDir(); err == nil {
		base = filepath.Join(home, ".local", "share", "wavectl")
	}
	if kind == TypeBadger {
		return filepath.Join(base, "runs.badger")
	}
	return filepath.Join(base, "runs.db")
}

// Open creates the configured backend.
func Open(cfg Config) (Recorder, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Type))
	if kind == "" {
		kind = TypeSQLite
	}
	dsn := cfg.DSN
	if dsn == "" && (kind == TypeSQLite || kind == TypeBadger) {
		dsn = DefaultDSN(kind)
		if err := os.MkdirAll(filepath.Dir(dsn), 0o750); err != nil {
			return nil, wrap("open", err)
		}
	}

	switch kind {
	case TypeMemory:
		return NewMemory(), nil
	case TypeSQLite:
		return OpenSQLite(dsn)
	case TypePostgres:
		if dsn == "" {
			return nil, wrap("open", errors.New("postgres recorder requires store.dsn"))
		}
		return OpenPostgres(dsn)
	case TypeBadger:
		return OpenBadger(BadgerConfig{Path: dsn, SyncWrites: true})
	default:
		return nil, wrap("open", fmt.Errorf("unknown store type %q", cfg.Type))
	}
}
