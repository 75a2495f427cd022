package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record describes a single archive file written by the archiver.
type Record struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Format    string    `json:"format"`
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Rows      int       `json:"rows"`
	SizeBytes int64     `json:"size_bytes"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	WroteAt   time.Time `json:"wrote_at"`
}

type document struct {
	GeneratedAt time.Time `json:"generated_at"`
	FileCount   int       `json:"file_count"`
	Files       []Record  `json:"files"`
}

// Manifest accumulates records of written archive files and persists them as
// one manifest.json in the archive directory.
type Manifest struct {
	dir string

	mu      sync.Mutex
	records []Record
}

// NewManifest returns a manifest rooted at dir.
func NewManifest(dir string) *Manifest {
	return &Manifest{dir: dir}
}

// Add registers a written file and returns its generated id.
func (m *Manifest) Add(rec Record) string {
	rec.ID = uuid.NewString()
	if rec.WroteAt.IsZero() {
		rec.WroteAt = time.Now().UTC()
	}

	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()

	return rec.ID
}

// Len reports how many files have been recorded.
func (m *Manifest) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Path returns the manifest file location.
func (m *Manifest) Path() string {
	return filepath.Join(m.dir, "manifest.json")
}

// Flush rewrites manifest.json with every record seen so far.
func (m *Manifest) Flush() error {
	m.mu.Lock()
	files := make([]Record, len(m.records))
	copy(files, m.records)
	m.mu.Unlock()

	doc := document{
		GeneratedAt: time.Now().UTC(),
		FileCount:   len(files),
		Files:       files,
	}

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(m.Path(), b, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
