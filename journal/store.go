package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/chazu/listvm/pkg/bytecode"
)

// ErrRunNotFound indicates no passes were saved under the requested run.
var ErrRunNotFound = errors.New("run not found")

// Store persists passes in SQLite, grouped by run.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the journal database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS passes (
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		data BLOB NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS programs (
		run_id TEXT PRIMARY KEY,
		data BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// SavePass stores p under runID, replacing a pass with the same sequence
// number.
func (s *Store) SavePass(runID string, p *Pass) error {
	if _, err := uuid.Parse(runID); err != nil {
		return fmt.Errorf("invalid run id %q: %w", runID, err)
	}
	data, err := MarshalPass(p)
	if err != nil {
		return fmt.Errorf("encoding pass %d: %w", p.Seq, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO passes (run_id, seq, error, data) VALUES (?, ?, ?, ?)",
		runID, p.Seq, p.Error, data,
	)
	if err != nil {
		return fmt.Errorf("saving pass %d: %w", p.Seq, err)
	}
	return nil
}

// LoadRun returns the passes of runID in sequence order.
func (s *Store) LoadRun(runID string) ([]*Pass, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query("SELECT data FROM passes WHERE run_id = ? ORDER BY seq", runID)
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}
	defer rows.Close()

	var passes []*Pass
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("loading run %s: %w", runID, err)
		}
		p, err := UnmarshalPass(data)
		if err != nil {
			return nil, err
		}
		passes = append(passes, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}
	if len(passes) == 0 {
		return nil, ErrRunNotFound
	}
	return passes, nil
}

// SaveProgram stores the program a run renders, in LVBC form.
func (s *Store) SaveProgram(runID string, chunk *bytecode.Chunk) error {
	if _, err := uuid.Parse(runID); err != nil {
		return fmt.Errorf("invalid run id %q: %w", runID, err)
	}
	data, err := chunk.Serialize()
	if err != nil {
		return fmt.Errorf("encoding program: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec("INSERT OR REPLACE INTO programs (run_id, data) VALUES (?, ?)", runID, data)
	if err != nil {
		return fmt.Errorf("saving program for run %s: %w", runID, err)
	}
	return nil
}

// LoadProgram returns the program stored for runID.
func (s *Store) LoadProgram(runID string) (*bytecode.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var data []byte
	err := s.db.QueryRow("SELECT data FROM programs WHERE run_id = ?", runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading program for run %s: %w", runID, err)
	}
	chunk, err := bytecode.Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("program for run %s: %w", runID, err)
	}
	return chunk, nil
}

// RunInfo summarizes one stored run.
type RunInfo struct {
	ID     string
	Passes int
	Failed int // passes that were abandoned
}

// Runs returns a summary of every stored run, oldest first.
func (s *Store) Runs() ([]RunInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT run_id, COUNT(*), SUM(error != '')
		FROM passes GROUP BY run_id ORDER BY MIN(rowid)`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []RunInfo
	for rows.Next() {
		var r RunInfo
		if err := rows.Scan(&r.ID, &r.Passes, &r.Failed); err != nil {
			return nil, fmt.Errorf("listing runs: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
