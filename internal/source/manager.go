// Package source tracks the dynamic log sources feeding the store.
// Today that means file tailers; the UDP receiver is a fixed source
// managed by the application, not here.
package source

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vburojevic/uelog/internal/domain"
	"github.com/vburojevic/uelog/internal/tailer"
)

// Manager registers and removes file tailers at runtime. Safe for
// concurrent use; tool handlers call it from request goroutines.
type Manager struct {
	mu      sync.Mutex
	store   tailer.Inserter
	tailers map[string]*tailer.Tailer
	nextID  int
}

// NewManager creates an empty manager inserting into store.
func NewManager(store tailer.Inserter) *Manager {
	return &Manager{
		store:   store,
		tailers: make(map[string]*tailer.Tailer),
		nextID:  1,
	}
}

// AddFile starts tailing path under a fresh id. name labels the
// entries and defaults to the file name. Returns an error when the
// file cannot be followed; the id counter still advances.
func (m *Manager) AddFile(path, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := fmt.Sprintf("file-%d", m.nextID)
	m.nextID++

	tl := tailer.New(m.store, path, name)
	tl.Start()
	if !tl.IsRunning() {
		return "", fmt.Errorf("cannot tail %s: file not found or unreadable", path)
	}

	m.tailers[id] = tl
	return id, nil
}

// Remove stops and forgets the tailer with the given id. Returns false
// when no such source exists.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	tl, ok := m.tailers[id]
	if ok {
		delete(m.tailers, id)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	tl.Stop()
	return true
}

// List returns a snapshot of the registered sources in creation order.
func (m *Manager) List() []domain.SourceInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]domain.SourceInfo, 0, len(m.tailers))
	for id, tl := range m.tailers {
		infos = append(infos, domain.SourceInfo{
			ID:      id,
			Type:    "file-tailer",
			Name:    tl.Name(),
			Path:    tl.Path(),
			Running: tl.IsRunning(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return sourceOrdinal(infos[i].ID) < sourceOrdinal(infos[j].ID)
	})
	return infos
}

// sourceOrdinal extracts the counter from an id like "file-12", so
// sorting follows creation order rather than string order.
func sourceOrdinal(id string) int {
	n, _ := strconv.Atoi(strings.TrimPrefix(id, "file-"))
	return n
}

// StopAll stops every tailer, waiting for all workers to exit. Used at
// shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	tailers := make([]*tailer.Tailer, 0, len(m.tailers))
	for id, tl := range m.tailers {
		tailers = append(tailers, tl)
		delete(m.tailers, id)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, tl := range tailers {
		tl := tl
		g.Go(func() error {
			tl.Stop()
			return nil
		})
	}
	g.Wait()
}
