package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/uelog/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "logs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type entryOpt func(*domain.Entry)

func withSession(session, instance string) entryOpt {
	return func(e *domain.Entry) {
		e.SessionID = session
		e.InstanceID = instance
	}
}

func withVerbosity(v domain.Verbosity) entryOpt {
	return func(e *domain.Entry) { e.Verbosity = v }
}

func withSource(source string) entryOpt {
	return func(e *domain.Entry) { e.Source = source }
}

func withTimes(timestamp, receivedAt float64) entryOpt {
	return func(e *domain.Entry) {
		e.Timestamp = timestamp
		e.ReceivedAt = receivedAt
	}
}

func withCategory(category string) entryOpt {
	return func(e *domain.Entry) { e.Category = category }
}

func insertEntry(t *testing.T, s *Store, message string, opts ...entryOpt) int64 {
	t.Helper()
	entry := domain.Entry{
		Source:     "client",
		Category:   "LogTemp",
		Verbosity:  domain.VerbosityLog,
		Message:    message,
		Timestamp:  1000,
		ReceivedAt: 1000,
		SessionID:  "s1",
		InstanceID: "i1",
	}
	for _, opt := range opts {
		opt(&entry)
	}
	id, err := s.Insert(entry)
	require.NoError(t, err)
	return id
}

func allSessions() domain.Filter {
	return domain.Filter{AllSessions: true}
}

func TestInsertAndQuery(t *testing.T) {
	s := newTestStore(t)

	frame := int64(77)
	file := "MyGame.cpp"
	line := 12
	_, err := s.Insert(domain.Entry{
		Source:     "client",
		Category:   "LogTemp",
		Verbosity:  domain.VerbosityWarning,
		Message:    "Test warning message",
		Timestamp:  1000.0,
		Frame:      &frame,
		File:       &file,
		Line:       &line,
		SessionID:  "s1",
		InstanceID: "i1",
	})
	require.NoError(t, err)

	results, err := s.Query(allSessions())
	require.NoError(t, err)
	require.Len(t, results, 1)

	got := results[0]
	assert.Equal(t, "client", got.Source)
	assert.Equal(t, "Test warning message", got.Message)
	assert.Equal(t, domain.VerbosityWarning, got.Verbosity)
	assert.Equal(t, int64(1), got.ID)
	assert.Greater(t, got.ReceivedAt, 0.0)
	require.NotNil(t, got.Frame)
	assert.Equal(t, int64(77), *got.Frame)
	require.NotNil(t, got.File)
	assert.Equal(t, "MyGame.cpp", *got.File)
	require.NotNil(t, got.Line)
	assert.Equal(t, 12, *got.Line)
}

func TestQueryOrdering(t *testing.T) {
	s := newTestStore(t)

	insertEntry(t, s, "oldest", withTimes(100, 1))
	insertEntry(t, s, "newest", withTimes(300, 2))
	insertEntry(t, s, "middle", withTimes(200, 3))

	results, err := s.Query(allSessions())
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "newest", results[0].Message)
	assert.Equal(t, "middle", results[1].Message)
	assert.Equal(t, "oldest", results[2].Message)

	t.Run("equal timestamps break ties by id descending", func(t *testing.T) {
		s := newTestStore(t)
		insertEntry(t, s, "first insert", withTimes(500, 1))
		insertEntry(t, s, "second insert", withTimes(500, 2))

		results, err := s.Query(allSessions())
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "second insert", results[0].Message)
		assert.Equal(t, "first insert", results[1].Message)
	})
}

func TestQueryFilters(t *testing.T) {
	s := newTestStore(t)

	insertEntry(t, s, "client warning", withSource("client"), withVerbosity(domain.VerbosityWarning), withCategory("LogNet"), withTimes(100, 1))
	insertEntry(t, s, "server error", withSource("server"), withVerbosity(domain.VerbosityError), withCategory("LogGameMode"), withTimes(200, 2))
	insertEntry(t, s, "client fatal", withSource("client"), withVerbosity(domain.VerbosityFatal), withCategory("LogNet"), withTimes(300, 3))

	t.Run("by source", func(t *testing.T) {
		src := "server"
		results, err := s.Query(domain.Filter{Source: &src, AllSessions: true})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "server error", results[0].Message)
	})

	t.Run("minimum verbosity admits more severe only", func(t *testing.T) {
		min := domain.VerbosityError
		results, err := s.Query(domain.Filter{MinVerbosity: &min, AllSessions: true})
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "client fatal", results[0].Message)
		assert.Equal(t, "server error", results[1].Message)
	})

	t.Run("by category", func(t *testing.T) {
		cat := "LogNet"
		results, err := s.Query(domain.Filter{Category: &cat, AllSessions: true})
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})

	t.Run("time window", func(t *testing.T) {
		since, until := 150.0, 250.0
		results, err := s.Query(domain.Filter{Since: &since, Until: &until, AllSessions: true})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "server error", results[0].Message)
	})

	t.Run("limit and offset", func(t *testing.T) {
		results, err := s.Query(domain.Filter{AllSessions: true, Limit: 2})
		require.NoError(t, err)
		assert.Len(t, results, 2)

		results, err = s.Query(domain.Filter{AllSessions: true, Limit: 2, Offset: 2})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "client warning", results[0].Message)
	})
}

func TestLatestSessionDefault(t *testing.T) {
	s := newTestStore(t)

	insertEntry(t, s, "old session entry", withSession("old", "i1"), withTimes(100, 1))
	insertEntry(t, s, "new session entry", withSession("new", "i2"), withTimes(200, 2))

	t.Run("default filter scopes to latest session", func(t *testing.T) {
		results, err := s.Query(domain.Filter{})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "new session entry", results[0].Message)
	})

	t.Run("all_sessions returns everything", func(t *testing.T) {
		results, err := s.Query(allSessions())
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})

	t.Run("explicit session_id wins", func(t *testing.T) {
		session := "old"
		results, err := s.Query(domain.Filter{SessionID: &session})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "old session entry", results[0].Message)
	})

	t.Run("empty store yields empty result", func(t *testing.T) {
		empty := newTestStore(t)
		results, err := empty.Query(domain.Filter{})
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("equal receive times pick greatest id", func(t *testing.T) {
		s := newTestStore(t)
		insertEntry(t, s, "a", withSession("sessA", "i1"), withTimes(100, 50))
		insertEntry(t, s, "b", withSession("sessB", "i1"), withTimes(100, 50))

		latest, err := s.LatestSession(nil)
		require.NoError(t, err)
		assert.Equal(t, "sessB", latest)

		results, err := s.Query(domain.Filter{})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "b", results[0].Message)
	})
}

func TestSearch(t *testing.T) {
	s := newTestStore(t)

	insertEntry(t, s, "Player spawned at location", withTimes(100, 1))
	insertEntry(t, s, "Enemy destroyed", withTimes(200, 2))
	insertEntry(t, s, "Player died from falling", withTimes(300, 3))

	t.Run("single term", func(t *testing.T) {
		results, err := s.Search("Player", allSessions())
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "Player died from falling", results[0].Message)
		assert.Equal(t, "Player spawned at location", results[1].Message)
	})

	t.Run("implicit AND", func(t *testing.T) {
		results, err := s.Search("Player spawned", allSessions())
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "Player spawned at location", results[0].Message)
	})

	t.Run("OR", func(t *testing.T) {
		results, err := s.Search("Enemy OR spawned", allSessions())
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})

	t.Run("lowercase operators are normalized", func(t *testing.T) {
		results, err := s.Search("Enemy or spawned", allSessions())
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})

	t.Run("NOT", func(t *testing.T) {
		results, err := s.Search("Player NOT died", allSessions())
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "Player spawned at location", results[0].Message)
	})

	t.Run("quoted phrase", func(t *testing.T) {
		results, err := s.Search(`"spawned at location"`, allSessions())
		require.NoError(t, err)
		require.Len(t, results, 1)

		results, err = s.Search(`"location spawned"`, allSessions())
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("prefix match", func(t *testing.T) {
		results, err := s.Search("spawn*", allSessions())
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "Player spawned at location", results[0].Message)
	})

	t.Run("respects filter", func(t *testing.T) {
		src := "server"
		results, err := s.Search("Player", domain.Filter{Source: &src, AllSessions: true})
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestSearchInputErrors(t *testing.T) {
	s := newTestStore(t)
	insertEntry(t, s, "something")

	for name, query := range map[string]string{
		"empty":             "",
		"whitespace only":   "   ",
		"unbalanced quotes": `"player died`,
		"leading OR":        "OR player",
		"trailing NOT":      "player NOT",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.Search(query, allSessions())
			var inputErr *InputError
			require.ErrorAs(t, err, &inputErr)
		})
	}
}

func TestSessions(t *testing.T) {
	s := newTestStore(t)

	insertEntry(t, s, "one", withSession("A", "x"), withTimes(100, 10))
	insertEntry(t, s, "two", withSession("A", "x"), withTimes(110, 20))
	insertEntry(t, s, "three", withSession("B", "y"), withTimes(120, 30))

	sessions, err := s.Sessions(nil)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	// Most recently active first.
	assert.Equal(t, "B", sessions[0].SessionID)
	assert.Equal(t, int64(1), sessions[0].LogCount)
	assert.Equal(t, []string{"y"}, sessions[0].Instances)

	assert.Equal(t, "A", sessions[1].SessionID)
	assert.Equal(t, int64(2), sessions[1].LogCount)
	assert.Equal(t, []string{"x"}, sessions[1].Instances)
	assert.Equal(t, 10.0, sessions[1].FirstSeen)
	assert.Equal(t, 20.0, sessions[1].LastSeen)

	t.Run("source filter restricts summaries and instances", func(t *testing.T) {
		insertEntry(t, s, "server entry", withSession("A", "srv"), withSource("server"), withTimes(130, 40))

		src := "server"
		sessions, err := s.Sessions(&src)
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.Equal(t, "A", sessions[0].SessionID)
		assert.Equal(t, int64(1), sessions[0].LogCount)
		assert.Equal(t, []string{"srv"}, sessions[0].Instances)
	})
}

func TestStats(t *testing.T) {
	s := newTestStore(t)

	insertEntry(t, s, "f", withSource("client"), withVerbosity(domain.VerbosityFatal), withCategory("LogCore"), withSession("s1", "i1"), withTimes(100, 1))
	insertEntry(t, s, "e", withSource("client"), withVerbosity(domain.VerbosityError), withCategory("LogCore"), withSession("s1", "i1"), withTimes(200, 2))
	insertEntry(t, s, "w", withSource("server"), withVerbosity(domain.VerbosityWarning), withCategory("LogNet"), withSession("s1", "i2"), withTimes(300, 3))
	insertEntry(t, s, "l", withSource("server"), withVerbosity(domain.VerbosityLog), withCategory("LogNet"), withSession("s2", "i3"), withTimes(400, 4))

	stats, err := s.Stats(nil, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(2), stats.BySource["client"])
	assert.Equal(t, int64(2), stats.BySource["server"])
	assert.Equal(t, int64(2), stats.Errors)
	assert.Equal(t, int64(1), stats.Warnings)
	assert.Equal(t, int64(2), stats.ByCategory["LogCore"])
	assert.Equal(t, int64(2), stats.ByCategory["LogNet"])
	assert.Equal(t, int64(2), stats.SessionCount)
	assert.Equal(t, int64(3), stats.InstanceCount)
	assert.Equal(t, "s2", stats.CurrentSession)

	t.Run("total matches count", func(t *testing.T) {
		n, err := s.Count()
		require.NoError(t, err)
		assert.Equal(t, stats.Total, n)
	})

	t.Run("source scope", func(t *testing.T) {
		src := "client"
		stats, err := s.Stats(&src, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.Total)
		assert.Equal(t, int64(2), stats.Errors)
		assert.Equal(t, int64(0), stats.Warnings)
	})

	t.Run("since scope", func(t *testing.T) {
		since := 250.0
		stats, err := s.Stats(nil, &since)
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.Total)
		assert.Equal(t, int64(0), stats.Errors)
		assert.Equal(t, int64(1), stats.Warnings)
	})
}

func TestCategories(t *testing.T) {
	s := newTestStore(t)

	insertEntry(t, s, "a", withCategory("LogNet"))
	insertEntry(t, s, "b", withCategory("LogAI"))
	insertEntry(t, s, "c", withCategory("LogNet"))
	insertEntry(t, s, "d", withCategory("LogCombat"), withSource("server"))

	categories, err := s.Categories(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"LogAI", "LogCombat", "LogNet"}, categories)

	src := "server"
	categories, err = s.Categories(&src)
	require.NoError(t, err)
	assert.Equal(t, []string{"LogCombat"}, categories)
}

func TestClear(t *testing.T) {
	t.Run("by source", func(t *testing.T) {
		s := newTestStore(t)
		insertEntry(t, s, "keep", withSource("server"))
		insertEntry(t, s, "drop", withSource("client"))

		src := "client"
		deleted, err := s.Clear(&src, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		results, err := s.Query(allSessions())
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "keep", results[0].Message)
	})

	t.Run("before cutoff is exclusive", func(t *testing.T) {
		s := newTestStore(t)
		insertEntry(t, s, "old", withTimes(100, 1))
		insertEntry(t, s, "boundary", withTimes(200, 2))
		insertEntry(t, s, "new", withTimes(300, 3))

		before := 200.0
		deleted, err := s.Clear(nil, &before)
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		n, err := s.Count()
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("clearing twice is idempotent", func(t *testing.T) {
		s := newTestStore(t)
		insertEntry(t, s, "a")
		insertEntry(t, s, "b")

		deleted, err := s.Clear(nil, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)

		deleted, err = s.Clear(nil, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(0), deleted)

		n, err := s.Count()
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("cleared entries leave the search index", func(t *testing.T) {
		s := newTestStore(t)
		insertEntry(t, s, "ghost entry")

		_, err := s.Clear(nil, nil)
		require.NoError(t, err)

		results, err := s.Search("ghost", allSessions())
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestSubscribers(t *testing.T) {
	t.Run("notified once per insert in id order", func(t *testing.T) {
		s := newTestStore(t)

		var seen []domain.Entry
		s.Subscribe(func(e domain.Entry) { seen = append(seen, e) })

		insertEntry(t, s, "first")
		insertEntry(t, s, "second")

		require.Len(t, seen, 2)
		assert.Equal(t, "first", seen[0].Message)
		assert.Equal(t, int64(1), seen[0].ID)
		assert.Equal(t, "second", seen[1].Message)
		assert.Equal(t, int64(2), seen[1].ID)
		assert.Greater(t, seen[0].ReceivedAt, 0.0)
	})

	t.Run("callbacks run in registration order", func(t *testing.T) {
		s := newTestStore(t)

		var order []string
		s.Subscribe(func(domain.Entry) { order = append(order, "a") })
		s.Subscribe(func(domain.Entry) { order = append(order, "b") })

		insertEntry(t, s, "entry")
		assert.Equal(t, []string{"a", "b"}, order)
	})

	t.Run("panicking subscriber does not abort the insert", func(t *testing.T) {
		s := newTestStore(t)

		var after int
		s.Subscribe(func(domain.Entry) { panic("boom") })
		s.Subscribe(func(domain.Entry) { after++ })

		id := insertEntry(t, s, "survives")
		assert.Equal(t, int64(1), id)
		assert.Equal(t, 1, after)

		n, err := s.Count()
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs.db")

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.Insert(domain.Entry{
		Source: "client", Category: "LogTemp", Verbosity: domain.VerbosityLog,
		Message: "durable entry", Timestamp: 1, ReceivedAt: 1,
		SessionID: "s1", InstanceID: "i1",
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	results, err := reopened.Search("durable", allSessions())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "durable entry", results[0].Message)
}

func TestIDsAreMonotone(t *testing.T) {
	s := newTestStore(t)

	var last int64
	for i := 0; i < 5; i++ {
		id := insertEntry(t, s, "entry")
		assert.Greater(t, id, last)
		last = id
	}
}
