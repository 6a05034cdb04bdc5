package store

import (
	"context"
	"sync"
)

type MemoryBackend struct {
	mu    sync.RWMutex
	areas map[Area]map[string]string
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{areas: map[Area]map[string]string{}}
}

func (m *MemoryBackend) Get(_ context.Context, area Area, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.areas[area][key]
	return value, ok, nil
}

func (m *MemoryBackend) Apply(ctx context.Context, ops []Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	applyOps(m.areas, ops)
	return nil
}

// Put writes a raw value, bypassing Store. Used to seed state left behind by
// older clients.
func (m *MemoryBackend) Put(area Area, key string, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	applyOps(m.areas, []Op{{Kind: OpSet, Area: area, Key: key, Value: value}})
}

func (m *MemoryBackend) Len(area Area) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.areas[area])
}

func applyOps(areas map[Area]map[string]string, ops []Op) {
	for _, op := range ops {
		switch op.Kind {
		case OpSet:
			if areas[op.Area] == nil {
				areas[op.Area] = map[string]string{}
			}
			areas[op.Area][op.Key] = op.Value
		case OpDelete:
			delete(areas[op.Area], op.Key)
		case OpClearArea:
			delete(areas, op.Area)
		}
	}
}
