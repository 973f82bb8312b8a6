package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "journal.db"), DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func beginTestSession(t *testing.T, s *Store) string {
	t.Helper()
	id := uuid.New().String()
	require.NoError(t, s.BeginSession(&Session{
		ID:        id,
		StartedAt: time.Now().UnixNano(),
		Hostname:  "test-host",
		Version:   "test",
	}))
	return id
}

func TestOpenAndClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")

	s, err := Open(dbPath, DefaultOptions())
	require.NoError(t, err)
	assert.NoError(t, s.Ping())
	assert.NoError(t, s.Close())
}

func TestOpenCreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "deeper", "journal.db")

	s, err := Open(dbPath, DefaultOptions())
	require.NoError(t, err)
	defer s.Close()
}

func TestOpenMemory(t *testing.T) {
	s, err := Open("", Options{Memory: true, MaxConnections: 2})
	require.NoError(t, err)
	defer s.Close()

	sess := beginTestSession(t, s)
	_, err = s.RecordActivation(&Activation{
		Session: sess, Device: "synthetic", Layer: 2,
		ActivatedAt: time.Now().UnixNano(),
	})
	assert.NoError(t, err)
}

func TestCloseNilDB(t *testing.T) {
	s := &Store{db: nil}
	assert.NoError(t, s.Close())
	assert.Error(t, s.Ping())
}

func TestMigrationsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")

	s, err := Open(dbPath, DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Reopening runs MigrateDB again over an up-to-date schema.
	s, err = Open(dbPath, DefaultOptions())
	require.NoError(t, err)
	defer s.Close()

	version, err := SchemaVersion(s.db)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), version)
	assert.NoError(t, ValidateSchema(s.db))
}

func TestSessionLifecycle(t *testing.T) {
	s := openTestStore(t)

	id := uuid.New().String()
	started := time.Now().UnixNano()
	require.NoError(t, s.BeginSession(&Session{
		ID: id, StartedAt: started, Hostname: "host", Version: "1.0",
	}))

	sess, err := s.GetSession(id)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, started, sess.StartedAt)
	assert.Nil(t, sess.EndedAt)

	ended := time.Now().UnixNano()
	require.NoError(t, s.EndSession(id, ended))

	sess, err = s.GetSession(id)
	require.NoError(t, err)
	require.NotNil(t, sess.EndedAt)
	assert.Equal(t, ended, *sess.EndedAt)
}

func TestGetSessionNotFound(t *testing.T) {
	s := openTestStore(t)

	sess, err := s.GetSession("no-such-session")
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestActivationLifecycle(t *testing.T) {
	s := openTestStore(t)
	sess := beginTestSession(t, s)

	activated := time.Now().UnixNano()
	id, err := s.RecordActivation(&Activation{
		Session: sess, Device: "event3", Layer: 4, ActivatedAt: activated,
	})
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	deactivated := activated + 750*int64(time.Millisecond)
	require.NoError(t, s.CloseActivation(id, deactivated, "timeout"))

	recent, err := s.RecentActivations(10)
	require.NoError(t, err)
	require.Len(t, recent, 1)

	got := recent[0]
	assert.Equal(t, 4, got.Layer)
	assert.Equal(t, "event3", got.Device)
	assert.Equal(t, "timeout", got.Cause)
	require.NotNil(t, got.DeactivatedAt)
	assert.Equal(t, int64(750), got.Duration())
}

func TestCloseActivationTwice(t *testing.T) {
	s := openTestStore(t)
	sess := beginTestSession(t, s)

	id, err := s.RecordActivation(&Activation{
		Session: sess, Device: "event3", Layer: 4,
		ActivatedAt: time.Now().UnixNano(),
	})
	require.NoError(t, err)

	now := time.Now().UnixNano()
	require.NoError(t, s.CloseActivation(id, now, "key"))
	assert.Error(t, s.CloseActivation(id, now, "timeout"))
}

func TestOpenIntervalDuration(t *testing.T) {
	a := Activation{ActivatedAt: time.Now().UnixNano()}
	assert.Equal(t, int64(-1), a.Duration())
}

func TestCloseOpenActivations(t *testing.T) {
	s := openTestStore(t)
	sess := beginTestSession(t, s)
	other := beginTestSession(t, s)

	now := time.Now().UnixNano()
	for _, layer := range []int{2, 3, 4} {
		_, err := s.RecordActivation(&Activation{
			Session: sess, Device: "event3", Layer: layer, ActivatedAt: now,
		})
		require.NoError(t, err)
	}
	_, err := s.RecordActivation(&Activation{
		Session: other, Device: "event5", Layer: 2, ActivatedAt: now,
	})
	require.NoError(t, err)

	swept, err := s.CloseOpenActivations(sess, now+1e9, "shutdown")
	require.NoError(t, err)
	assert.Equal(t, int64(3), swept)

	// The other session's interval stays open.
	recent, err := s.RecentActivations(10)
	require.NoError(t, err)
	open := 0
	for _, a := range recent {
		if a.DeactivatedAt == nil {
			open++
			assert.Equal(t, other, a.Session)
		}
	}
	assert.Equal(t, 1, open)

	// An empty session sweeps everything, the crash-recovery path.
	swept, err = s.CloseOpenActivations("", now+2e9, "shutdown")
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)
}

func TestRecentActivationsOrderAndLimit(t *testing.T) {
	s := openTestStore(t)
	sess := beginTestSession(t, s)

	base := time.Now().UnixNano()
	for i := 0; i < 5; i++ {
		_, err := s.RecordActivation(&Activation{
			Session: sess, Device: "event3", Layer: 2,
			ActivatedAt: base + int64(i)*1e9,
		})
		require.NoError(t, err)
	}

	recent, err := s.RecentActivations(3)
	require.NoError(t, err)
	require.Len(t, recent, 3)

	// Most recent first.
	assert.Equal(t, base+4e9, recent[0].ActivatedAt)
	assert.Equal(t, base+2e9, recent[2].ActivatedAt)
}

func TestActivationsSince(t *testing.T) {
	s := openTestStore(t)
	sess := beginTestSession(t, s)

	base := time.Now().UnixNano()
	for i := 0; i < 4; i++ {
		_, err := s.RecordActivation(&Activation{
			Session: sess, Device: "event3", Layer: 2,
			ActivatedAt: base + int64(i)*1e9,
		})
		require.NoError(t, err)
	}

	since, err := s.ActivationsSince(base + 2e9)
	require.NoError(t, err)
	require.Len(t, since, 2)
	assert.Equal(t, base+2e9, since[0].ActivatedAt)
}

func TestLayerTotals(t *testing.T) {
	s := openTestStore(t)
	sess := beginTestSession(t, s)

	base := time.Now().UnixNano()
	// Two closed intervals on layer 2, one open on layer 4.
	id, err := s.RecordActivation(&Activation{Session: sess, Device: "event3", Layer: 2, ActivatedAt: base})
	require.NoError(t, err)
	require.NoError(t, s.CloseActivation(id, base+500e6, "timeout"))

	id, err = s.RecordActivation(&Activation{Session: sess, Device: "event3", Layer: 2, ActivatedAt: base + 1e9})
	require.NoError(t, err)
	require.NoError(t, s.CloseActivation(id, base+1e9+250e6, "key"))

	_, err = s.RecordActivation(&Activation{Session: sess, Device: "event5", Layer: 4, ActivatedAt: base + 2e9})
	require.NoError(t, err)

	totals, err := s.LayerTotals()
	require.NoError(t, err)
	require.Len(t, totals, 2)

	assert.Equal(t, 2, totals[0].Layer)
	assert.Equal(t, int64(2), totals[0].Activations)
	assert.Equal(t, int64(750), totals[0].ActiveMs)

	assert.Equal(t, 4, totals[1].Layer)
	assert.Equal(t, int64(1), totals[1].Activations)
	assert.Equal(t, int64(0), totals[1].ActiveMs)
}

func TestSuppressionCounter(t *testing.T) {
	s := openTestStore(t)
	sess := beginTestSession(t, s)

	base := time.Now().UnixNano()
	require.NoError(t, s.RecordSuppression(sess, "event3", 2, "quicktap", base))
	require.NoError(t, s.RecordSuppression(sess, "event3", 2, "quicktap", base+1e9))
	require.NoError(t, s.RecordSuppression(sess, "event3", 2, "paused", base+2e9))

	sups, err := s.SuppressionTotals(sess)
	require.NoError(t, err)
	require.Len(t, sups, 2)

	byReason := map[string]Suppression{}
	for _, sup := range sups {
		byReason[sup.Reason] = sup
	}

	qt := byReason["quicktap"]
	assert.Equal(t, int64(2), qt.Count)
	assert.Equal(t, base, qt.FirstAt)
	assert.Equal(t, base+1e9, qt.LastAt)

	assert.Equal(t, int64(1), byReason["paused"].Count)
}

func TestSuppressionTotalsAllSessions(t *testing.T) {
	s := openTestStore(t)
	a := beginTestSession(t, s)
	b := beginTestSession(t, s)

	now := time.Now().UnixNano()
	require.NoError(t, s.RecordSuppression(a, "event3", 2, "quicktap", now))
	require.NoError(t, s.RecordSuppression(b, "event3", 2, "quicktap", now))

	sups, err := s.SuppressionTotals("")
	require.NoError(t, err)
	assert.Len(t, sups, 2)
}

func TestPrune(t *testing.T) {
	s := openTestStore(t)
	sess := beginTestSession(t, s)

	old := time.Now().AddDate(0, 0, -40).UnixNano()
	recent := time.Now().UnixNano()

	id, err := s.RecordActivation(&Activation{Session: sess, Device: "event3", Layer: 2, ActivatedAt: old})
	require.NoError(t, err)
	require.NoError(t, s.CloseActivation(id, old+1e9, "timeout"))

	_, err = s.RecordActivation(&Activation{Session: sess, Device: "event3", Layer: 2, ActivatedAt: recent})
	require.NoError(t, err)

	require.NoError(t, s.RecordSuppression(sess, "event3", 2, "quicktap", old))

	pruned, err := s.Prune(30)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned)

	left, err := s.RecentActivations(10)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, recent, left[0].ActivatedAt)
}

func TestPruneDisabled(t *testing.T) {
	s := openTestStore(t)

	pruned, err := s.Prune(0)
	require.NoError(t, err)
	assert.Zero(t, pruned)
}
