package recorder

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"wavectl/internal/run"
	"wavectl/pkg/logging"
)

//go:embed migrations/**/*.sql
var migrationFS embed.FS

const gooseTableName = "wavectl_goose_version"

// goose keeps its settings in package globals.
var gooseMu sync.Mutex

// Dialect captures the differences between the SQL backends.
type Dialect struct {
	Name        string
	Driver      string
	gooseName   string
	migrations  string
	dollarBinds bool
}

var (
	SQLiteDialect   = Dialect{Name: TypeSQLite, Driver: "sqlite", gooseName: "sqlite3", migrations: "migrations/sqlite"}
	PostgresDialect = Dialect{Name: TypePostgres, Driver: "pgx", gooseName: "postgres", migrations: "migrations/postgres", dollarBinds: true}
)

// Rebind rewrites '?' placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.dollarBinds {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) migrate(db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(migrationFS)
	goose.SetTableName(gooseTableName)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(d.gooseName); err != nil {
		return err
	}
	return goose.Up(db, d.migrations)
}

// SQL records runs in a relational database.
type SQL struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// OpenSQLite opens (creating if needed) a sqlite database file.
func OpenSQLite(path string) (*SQL, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_fk=1", path)
	return openSQL(SQLiteDialect, dsn)
}

// OpenPostgres connects to postgres with a pgx connection URL.
func OpenPostgres(dsn string) (*SQL, error) {
	return openSQL(PostgresDialect, dsn)
}

func openSQL(d Dialect, dsn string) (*SQL, error) {
	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, wrap("open", err)
	}
	if d.Name == TypeSQLite {
		// One writer avoids SQLITE_BUSY between concurrent appends.
		db.SetMaxOpenConns(1)
	}
	if err := d.migrate(db); err != nil {
		_ = db.Close()
		return nil, wrap("migrate", err)
	}
	logging.Debug("Recorder", "Opened %s recorder", d.Name)
	return &SQL{db: db, dialect: d, now: time.Now, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *SQL) lockFor(runID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[runID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[runID] = l
	}
	return l
}

func (s *SQL) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *SQL) CreateRun(ctx context.Context, r *run.DeploymentRun) error {
	header, err := json.Marshal(r)
	if err != nil {
		return wrap("create run", err)
	}
	_, err = s.exec(ctx,
		`INSERT INTO runs (id, stage, status, error, header, started_at, finished_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Stage, string(r.Status), r.Error, string(header), r.StartedAt.UnixNano(), nanos(r.FinishedAt))
	return wrap("create run", err)
}

func (s *SQL) Append(ctx context.Context, runID string, t run.Transition) (run.Transition, error) {
	l := s.lockFor(runID)
	l.Lock()
	defer l.Unlock()

	t.RunID = runID
	if t.At.IsZero() {
		t.At = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return t, wrap("append", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, s.dialect.Rebind(`SELECT COUNT(*) FROM runs WHERE id = ?`), runID).Scan(&exists)
	if err != nil {
		return t, wrap("append", err)
	}
	if exists == 0 {
		return t, ErrRunNotFound
	}
	if err := tx.QueryRowContext(ctx, s.dialect.Rebind(`SELECT COALESCE(MAX(seq), 0) + 1 FROM transitions WHERE run_id = ?`), runID).Scan(&t.Seq); err != nil {
		return t, wrap("append", err)
	}
	_, err = tx.ExecContext(ctx, s.dialect.Rebind(
		`INSERT INTO transitions (run_id, seq, component, from_state, to_state, attempt, error, detail, at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		runID, t.Seq, t.Component, string(t.From), string(t.To), t.Attempt, t.Error, t.Detail, t.At.UnixNano())
	if err != nil {
		return t, wrap("append", err)
	}
	return t, wrap("append", tx.Commit())
}

func (s *SQL) SetStatus(ctx context.Context, runID string, status run.Status) error {
	var (
		res sql.Result
		err error
	)
	if status.Terminal() {
		res, err = s.exec(ctx, `UPDATE runs SET status = ? WHERE id = ?`, string(status), runID)
	} else {
		res, err = s.exec(ctx, `UPDATE runs SET status = ?, error = '', finished_at = NULL WHERE id = ?`, string(status), runID)
	}
	return s.checkUpdated("set status", res, err)
}

func (s *SQL) FinishRun(ctx context.Context, runID string, status run.Status, runErr string, at time.Time) error {
	res, err := s.exec(ctx, `UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), runErr, at.UnixNano(), runID)
	return s.checkUpdated("finish run", res, err)
}

func (s *SQL) checkUpdated(op string, res sql.Result, err error) error {
	if err != nil {
		return wrap(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap(op, err)
	}
	if n == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (s *SQL) Load(ctx context.Context, runID string) (*run.DeploymentRun, error) {
	var (
		header   string
		status   string
		runErr   string
		finished sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`SELECT header, status, error, finished_at FROM runs WHERE id = ?`), runID).
		Scan(&header, &status, &runErr, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, wrap("load", err)
	}

	var r run.DeploymentRun
	if err := json.Unmarshal([]byte(header), &r); err != nil {
		return nil, wrap("load", fmt.Errorf("decoding run header: %w", err))
	}
	r.Status = run.Status(status)
	r.Error = runErr
	r.FinishedAt = nil
	if finished.Valid {
		r.FinishedAt = run.Stamp(time.Unix(0, finished.Int64))
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(
		`SELECT seq, component, from_state, to_state, attempt, error, detail, at FROM transitions WHERE run_id = ? ORDER BY seq`), runID)
	if err != nil {
		return nil, wrap("load", err)
	}
	defer func() { _ = rows.Close() }()

	var transitions []run.Transition
	for rows.Next() {
		t := run.Transition{RunID: runID}
		var from, to string
		var at int64
		if err := rows.Scan(&t.Seq, &t.Component, &from, &to, &t.Attempt, &t.Error, &t.Detail, &at); err != nil {
			return nil, wrap("load", err)
		}
		t.From, t.To = run.ComponentState(from), run.ComponentState(to)
		t.At = time.Unix(0, at)
		transitions = append(transitions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("load", err)
	}
	return run.Replay(&r, transitions), nil
}

func (s *SQL) LatestHealthy(ctx context.Context, component string) (time.Time, bool, error) {
	var at int64
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`
		SELECT t.at FROM transitions t
		WHERE t.component = ? AND t.to_state = ?
		  AND NOT EXISTS (
		    SELECT 1 FROM transitions r
		    WHERE r.component = t.component AND r.to_state = ? AND r.at >= t.at
		  )
		ORDER BY t.at DESC LIMIT 1`),
		component, string(run.StateHealthy), string(run.StateRolledBack)).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, wrap("latest healthy", err)
	}
	return time.Unix(0, at), true, nil
}

func (s *SQL) ListRuns(ctx context.Context, limit int) ([]run.Summary, error) {
	query := `SELECT id, stage, status, started_at, finished_at FROM runs ORDER BY started_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, wrap("list runs", err)
	}
	defer func() { _ = rows.Close() }()

	var out []run.Summary
	for rows.Next() {
		var (
			sum      run.Summary
			status   string
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&sum.ID, &sum.Stage, &status, &started, &finished); err != nil {
			return nil, wrap("list runs", err)
		}
		sum.Status = run.Status(status)
		sum.StartedAt = time.Unix(0, started)
		if finished.Valid {
			sum.FinishedAt = run.Stamp(time.Unix(0, finished.Int64))
		}
		out = append(out, sum)
	}
	return out, wrap("list runs", rows.Err())
}

func (s *SQL) Close() error {
	return s.db.Close()
}

func nanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}
