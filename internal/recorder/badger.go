package recorder

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"wavectl/internal/run"
	"wavectl/pkg/logging"
)

// Key layout:
//
//	run/<id>                header (JSON)
//	tr/<id>/<seq:020d>      transition (JSON), append-only
//	healthy/<component>     unix nanos of the latest un-rolled-back Healthy
const (
	prefixRun     = "run/"
	prefixTr      = "tr/"
	prefixHealthy = "healthy/"
)

// BadgerConfig configures the embedded key-value backend.
type BadgerConfig struct {
	Path       string
	InMemory   bool
	SyncWrites bool
}

// Badger records runs in an embedded badger database.
type Badger struct {
	db  *badger.DB
	now func() time.Time

	mu   sync.Mutex
	seqs map[string]int64
}

type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	logging.Error("Badger", nil, format, args...)
}
func (badgerLogger) Warningf(format string, args ...interface{}) {
	logging.Warn("Badger", format, args...)
}
func (badgerLogger) Infof(string, ...interface{})  {}
func (badgerLogger) Debugf(string, ...interface{}) {}

// OpenBadger opens or creates the database at cfg.Path.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, wrap("open", errors.New("path is required for badger recorder"))
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, wrap("open", fmt.Errorf("create database directory %s: %w", cfg.Path, err))
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1).WithLogger(badgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, wrap("open", err)
	}
	return &Badger{db: db, now: time.Now, seqs: make(map[string]int64)}, nil
}

func runKey(id string) []byte { return []byte(prefixRun + id) }

func trPrefix(id string) []byte { return []byte(prefixTr + id + "/") }

func trKey(id string, seq int64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", prefixTr, id, seq))
}

func healthyKey(component string) []byte { return []byte(prefixHealthy + component) }

func (b *Badger) CreateRun(_ context.Context, r *run.DeploymentRun) error {
	data, err := json.Marshal(r)
	if err != nil {
		return wrap("create run", err)
	}
	return wrap("create run", b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(runKey(r.ID), data)
	}))
}

func getHeader(txn *badger.Txn, id string) (*run.DeploymentRun, error) {
	item, err := txn.Get(runKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	var r run.DeploymentRun
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &r)
	})
	return &r, err
}

func putHeader(txn *badger.Txn, r *run.DeploymentRun) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return txn.Set(runKey(r.ID), data)
}

// nextSeq must be called with b.mu held.
func (b *Badger) nextSeq(txn *badger.Txn, runID string) int64 {
	if seq, ok := b.seqs[runID]; ok {
		return seq + 1
	}
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = trPrefix(runID)
	it := txn.NewIterator(opts)
	defer it.Close()
	var n int64
	for it.Rewind(); it.Valid(); it.Next() {
		n++
	}
	return n + 1
}

func (b *Badger) Append(_ context.Context, runID string, t run.Transition) (run.Transition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t.RunID = runID
	if t.At.IsZero() {
		t.At = b.now()
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(runKey(runID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrRunNotFound
			}
			return err
		}
		t.Seq = b.nextSeq(txn, runID)
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		if err := txn.Set(trKey(runID, t.Seq), data); err != nil {
			return err
		}
		switch t.To {
		case run.StateHealthy:
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, uint64(t.At.UnixNano()))
			return txn.Set(healthyKey(t.Component), buf)
		case run.StateRolledBack:
			return txn.Delete(healthyKey(t.Component))
		}
		return nil
	})
	if err != nil {
		return t, wrap("append", err)
	}
	b.seqs[runID] = t.Seq
	return t, nil
}

func (b *Badger) updateHeader(op, runID string, fn func(*run.DeploymentRun)) error {
	return wrap(op, b.db.Update(func(txn *badger.Txn) error {
		r, err := getHeader(txn, runID)
		if err != nil {
			return err
		}
		fn(r)
		return putHeader(txn, r)
	}))
}

func (b *Badger) SetStatus(_ context.Context, runID string, status run.Status) error {
	return b.updateHeader("set status", runID, func(r *run.DeploymentRun) {
		r.Status = status
		if !status.Terminal() {
			r.Error = ""
			r.FinishedAt = nil
		}
	})
}

func (b *Badger) FinishRun(_ context.Context, runID string, status run.Status, runErr string, at time.Time) error {
	return b.updateHeader("finish run", runID, func(r *run.DeploymentRun) {
		r.Status = status
		r.Error = runErr
		r.FinishedAt = run.Stamp(at)
	})
}

func (b *Badger) Load(_ context.Context, runID string) (*run.DeploymentRun, error) {
	var (
		header      *run.DeploymentRun
		transitions []run.Transition
	)
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		header, err = getHeader(txn, runID)
		if err != nil {
			return err
		}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = trPrefix(runID)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var t run.Transition
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &t)
			}); err != nil {
				return err
			}
			transitions = append(transitions, t)
		}
		return nil
	})
	if err != nil {
		return nil, wrap("load", err)
	}
	return run.Replay(header, transitions), nil
}

func (b *Badger) LatestHealthy(_ context.Context, component string) (time.Time, bool, error) {
	var (
		at    time.Time
		found bool
	)
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(healthyKey(component))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupt healthy marker for %s", component)
			}
			at = time.Unix(0, int64(binary.BigEndian.Uint64(val)))
			found = true
			return nil
		})
	})
	if err != nil {
		return time.Time{}, false, wrap("latest healthy", err)
	}
	return at, found, nil
}

func (b *Badger) ListRuns(_ context.Context, limit int) ([]run.Summary, error) {
	var out []run.Summary
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixRun)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var r run.DeploymentRun
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return err
			}
			out = append(out, r.Summary())
		}
		return nil
	})
	if err != nil {
		return nil, wrap("list runs", err)
	}
	sortSummaries(out)
	return truncate(out, limit), nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}
