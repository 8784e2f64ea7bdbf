package artifact

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/replicate/buildahutil/pkg/bherrors"
)

// freshnessRecord is what's stored per stage in the freshness index: the
// archive mtime and config file mtimes observed the last time the gate
// ran, purely so a later run can explain *why* it judged a stage stale.
type freshnessRecord struct {
	ArchiveModTime time.Time            `json:"archive_mod_time"`
	ConfigModTimes map[string]time.Time `json:"config_mod_times"`
}

// FreshnessIndex wraps a badger database at log-<basename>/.cache/freshness.
// It is never consulted to decide freshness itself — only to record and
// later explain the inputs the live filesystem comparison used.
type FreshnessIndex struct {
	mu sync.Mutex
	db *badger.DB
}

// OpenFreshnessIndex opens (creating if needed) the freshness index under
// logDir/.cache/freshness.
func OpenFreshnessIndex(logDir string) (*FreshnessIndex, error) {
	path := filepath.Join(logDir, ".cache", "freshness")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, bherrors.Config("failed to create freshness index directory %s: %s", path, err)
	}
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, bherrors.Config("failed to open freshness index at %s: %s", path, err)
	}
	return &FreshnessIndex{db: db}, nil
}

// Close releases the underlying badger database.
func (f *FreshnessIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.db.Close()
}

// Record stores the inputs the freshness gate used for stage, overwriting
// whatever was there before.
func (f *FreshnessIndex) Record(stage string, archiveModTime time.Time, configModTimes map[string]time.Time) error {
	rec := freshnessRecord{ArchiveModTime: archiveModTime, ConfigModTimes: configModTimes}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(stage), data)
	})
}

// Explain returns the previously recorded inputs for stage, if any, for
// diagnostic logging of why a stage was judged stale.
func (f *FreshnessIndex) Explain(stage string) (*freshnessRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var rec freshnessRecord
	found := false
	err := f.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(stage))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	return &rec, true, nil
}
