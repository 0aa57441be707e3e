package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/maltedev/product-research/internal/models"
)

const indexFile = "index.json"

// ResultStore keeps one JSON file per run plus an index of summaries.
type ResultStore struct {
	mu    sync.RWMutex
	dir   string
	index map[string]*models.RunSummary
}

func NewResultStore(dir string) (*ResultStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create result directory: %w", err)
	}

	rs := &ResultStore{
		dir:   dir,
		index: make(map[string]*models.RunSummary),
	}

	if err := rs.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return rs, nil
}

func (rs *ResultStore) Dir() string {
	return rs.dir
}

// Save writes the run and returns the path of its result file.
func (rs *ResultStore) Save(run *models.Run) (string, error) {
	if run.ID == "" {
		return "", fmt.Errorf("run ID is required")
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	name := resultFileName(run)
	path := filepath.Join(rs.dir, name)

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return "", err
	}
	if err := writeAtomic(path, data); err != nil {
		return "", fmt.Errorf("failed to write result: %w", err)
	}

	summary := run.Summary()
	summary.File = name
	rs.index[run.ID] = &summary

	if err := rs.save(); err != nil {
		return "", err
	}
	return path, nil
}

func (rs *ResultStore) Get(id string) (*models.RunSummary, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	s, ok := rs.index[id]
	return s, ok
}

// Load reads a full run back from its result file.
func (rs *ResultStore) Load(id string) (*models.Run, error) {
	rs.mu.RLock()
	s, ok := rs.index[id]
	rs.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("run not found: %s", id)
	}

	data, err := os.ReadFile(filepath.Join(rs.dir, s.File))
	if err != nil {
		return nil, err
	}

	var run models.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", id, err)
	}
	return &run, nil
}

// List returns summaries, newest first.
func (rs *ResultStore) List() []models.RunSummary {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	out := make([]models.RunSummary, 0, len(rs.index))
	for _, s := range rs.index {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

func (rs *ResultStore) GetStats() map[string]int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	stats := make(map[string]int)
	for _, s := range rs.index {
		stats[string(s.Status)]++
		stats["records"] += s.RecordCount
	}
	stats["total"] = len(rs.index)
	return stats
}

func (rs *ResultStore) save() error {
	data, err := json.MarshalIndent(rs.index, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(rs.dir, indexFile), data)
}

func (rs *ResultStore) load() error {
	data, err := os.ReadFile(filepath.Join(rs.dir, indexFile))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &rs.index)
}

func writeAtomic(path string, data []byte) error {
	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpFile, path)
}

func resultFileName(run *models.Run) string {
	site := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ' ' {
			return '_'
		}
		return r
	}, run.Site)
	id := run.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s_%s_%s.json", site, run.StartedAt.Format("20060102_150405"), id)
}
