package source

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/uelog/internal/domain"
)

type nullInserter struct{}

func (nullInserter) Insert(domain.Entry) (int64, error) { return 0, nil }

func writeTempLog(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	return path
}

func TestManagerAddFile(t *testing.T) {
	m := NewManager(nullInserter{})
	t.Cleanup(m.StopAll)

	id, err := m.AddFile(writeTempLog(t, "server.log"), "Server")
	require.NoError(t, err)
	assert.Equal(t, "file-1", id)

	id, err = m.AddFile(writeTempLog(t, "client.log"), "")
	require.NoError(t, err)
	assert.Equal(t, "file-2", id)

	infos := m.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "file-1", infos[0].ID)
	assert.Equal(t, "Server", infos[0].Name)
	assert.Equal(t, "file-tailer", infos[0].Type)
	assert.True(t, infos[0].Running)
	assert.Equal(t, "file-tailer", infos[1].Type)
	assert.Equal(t, "client.log", infos[1].Name)
}

func TestManagerAddFileMissing(t *testing.T) {
	m := NewManager(nullInserter{})
	t.Cleanup(m.StopAll)

	_, err := m.AddFile(filepath.Join(t.TempDir(), "absent.log"), "")
	require.Error(t, err)
	assert.Empty(t, m.List())

	// Failed adds still consume an id.
	id, err := m.AddFile(writeTempLog(t, "real.log"), "")
	require.NoError(t, err)
	assert.Equal(t, "file-2", id)
}

func TestManagerListOrdersByCreation(t *testing.T) {
	m := NewManager(nullInserter{})
	t.Cleanup(m.StopAll)

	for i := 0; i < 11; i++ {
		_, err := m.AddFile(writeTempLog(t, fmt.Sprintf("n%d.log", i)), "")
		require.NoError(t, err)
	}

	infos := m.List()
	require.Len(t, infos, 11)
	for i, info := range infos {
		// file-2 must come before file-10.
		assert.Equal(t, fmt.Sprintf("file-%d", i+1), info.ID)
	}
}

func TestManagerRemove(t *testing.T) {
	m := NewManager(nullInserter{})
	t.Cleanup(m.StopAll)

	id, err := m.AddFile(writeTempLog(t, "a.log"), "")
	require.NoError(t, err)

	assert.True(t, m.Remove(id))
	assert.Empty(t, m.List())

	assert.False(t, m.Remove(id))
	assert.False(t, m.Remove("file-99"))
}

func TestManagerStopAll(t *testing.T) {
	m := NewManager(nullInserter{})

	for _, name := range []string{"a.log", "b.log", "c.log"} {
		_, err := m.AddFile(writeTempLog(t, name), "")
		require.NoError(t, err)
	}

	m.StopAll()
	assert.Empty(t, m.List())
}

func TestManagerConcurrentAccess(t *testing.T) {
	m := NewManager(nullInserter{})
	t.Cleanup(m.StopAll)

	dir := t.TempDir()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			path := filepath.Join(dir, fmt.Sprintf("x%d.log", n))
			if os.WriteFile(path, nil, 0o644) != nil {
				return
			}
			id, err := m.AddFile(path, "")
			if err == nil {
				m.List()
				m.Remove(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Empty(t, m.List())
}
