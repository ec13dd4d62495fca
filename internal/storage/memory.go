package storage

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/dmitrijs2005/vaultcore/internal/common"
)

type memObject struct {
	data []byte
	rev  uint64
}

// Memory is a process-local backend. It is used by tests and by sessions
// that never persist.
type Memory struct {
	mu      sync.Mutex
	objects map[string]memObject
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memObject)}
}

func (m *Memory) Load(ctx context.Context, id string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", transport("load", id, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[id]
	if !ok {
		return nil, "", fmt.Errorf("vault %s: %w", id, common.ErrorNotFound)
	}
	return append([]byte(nil), o.data...), strconv.FormatUint(o.rev, 10), nil
}

func (m *Memory) Save(ctx context.Context, id string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", transport("save", id, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.objects[id]
	o.rev++
	o.data = append([]byte(nil), data...)
	m.objects[id] = o
	return strconv.FormatUint(o.rev, 10), nil
}

func (m *Memory) Revision(ctx context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[id]
	if !ok {
		return "", fmt.Errorf("vault %s: %w", id, common.ErrorNotFound)
	}
	return strconv.FormatUint(o.rev, 10), nil
}
