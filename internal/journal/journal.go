// Package journal keeps an append-only JSON-lines record of finished
// repair runs.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"session-guard/internal/model"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

type Query struct {
	Limit   int
	State   string
	Trigger string
}

// Journal appends to filePath when one is set and otherwise keeps the last
// MaxLimit runs in memory.
type Journal struct {
	filePath string
	mu       sync.Mutex
	memory   []model.RunView
}

func New(filePath string) (*Journal, error) {
	if filePath == "" {
		return &Journal{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("prepare journal directory: %w", err)
	}
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("initialize journal file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("initialize journal file: %w", err)
	}

	return &Journal{filePath: filePath}, nil
}

func (j *Journal) Record(run model.RunView) error {
	if j == nil {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.filePath == "" {
		j.memory = append(j.memory, run)
		if len(j.memory) > MaxLimit {
			j.memory = j.memory[len(j.memory)-MaxLimit:]
		}
		return nil
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", run.RunID, err)
	}

	f, err := os.OpenFile(j.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append run %s: %w", run.RunID, err)
	}
	return nil
}

// Recent returns matching runs, newest first.
func (j *Journal) Recent(query Query) ([]model.RunView, error) {
	if query.Limit <= 0 {
		query.Limit = DefaultLimit
	}
	if query.Limit > MaxLimit {
		query.Limit = MaxLimit
	}
	state := strings.ToUpper(strings.TrimSpace(query.State))
	trigger := strings.ToLower(strings.TrimSpace(query.Trigger))

	runs, err := j.all()
	if err != nil {
		return nil, err
	}

	items := make([]model.RunView, 0, len(runs))
	for _, run := range runs {
		if state != "" && string(run.State) != state {
			continue
		}
		if trigger != "" && run.Trigger != trigger {
			continue
		}
		items = append(items, run)
	}

	sort.SliceStable(items, func(a, b int) bool {
		return items[a].StartedAt.After(items[b].StartedAt)
	})

	if len(items) > query.Limit {
		items = items[:query.Limit]
	}
	return items, nil
}

func (j *Journal) all() ([]model.RunView, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.filePath == "" {
		return append([]model.RunView(nil), j.memory...), nil
	}

	f, err := os.Open(j.filePath)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	runs := make([]model.RunView, 0, 64)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var run model.RunView
		if err := json.Unmarshal([]byte(line), &run); err != nil {
			continue
		}
		runs = append(runs, run)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}
	return runs, nil
}
