package progress

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/qaimport/internal/core"
)

// storeContract runs the behavior every backend shares.
func storeContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	day := core.DateCursor(time.Date(2015, 1, 3, 0, 0, 0, 0, time.Local))

	t.Run("missing target", func(t *testing.T) {
		s := newStore(t)
		c, ok, err := s.Load(ctx, "1", core.CursorRow)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.True(t, c.IsZero())
	})

	t.Run("save and load", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, "1", core.RowCursor(57)))
		require.NoError(t, s.Save(ctx, "6", day))

		c, ok, err := s.Load(ctx, "1", core.CursorRow)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, core.RowCursor(57), c)

		c, ok, err = s.Load(ctx, "6", core.CursorDate)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "20150103", c.String())
	})

	t.Run("overwrite", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, "1", core.RowCursor(57)))
		require.NoError(t, s.Save(ctx, "1", core.RowCursor(60)))

		c, _, err := s.Load(ctx, "1", core.CursorRow)
		require.NoError(t, err)
		assert.Equal(t, 60, c.Row)
	})

	t.Run("all and reset", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, "1", core.RowCursor(57)))
		require.NoError(t, s.Save(ctx, "6", day))

		all, err := s.All(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"1", "6"}, Targets(all))

		require.NoError(t, s.Reset(ctx, "1"))
		require.NoError(t, s.Reset(ctx, "missing"))

		_, ok, err := s.Load(ctx, "1", core.CursorRow)
		require.NoError(t, err)
		assert.False(t, ok)
		_, ok, err = s.Load(ctx, "6", core.CursorDate)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("kind mismatch", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, "6", day))
		_, _, err := s.Load(ctx, "6", core.CursorRow)
		assert.Error(t, err)
	})
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestFileStore(t *testing.T) {
	storeContract(t, func(t *testing.T) Store {
		return NewFileStore(filepath.Join(t.TempDir(), "progress.json"))
	})
}

func TestSQLiteStore(t *testing.T) {
	storeContract(t, func(t *testing.T) Store {
		s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "progress.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("PROGRESS_TEST_DSN")
	if dsn == "" {
		t.Skip("PROGRESS_TEST_DSN not set")
	}
	storeContract(t, func(t *testing.T) Store {
		s, err := OpenPostgres(context.Background(), dsn)
		require.NoError(t, err)
		_, err = s.db.Exec(context.Background(), `TRUNCATE qa_import_progress`)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

// ============================================================================
// File format
// ============================================================================

func TestFileStore_Format(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")
	s := NewFileStore(path)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "1", core.RowCursor(57)))
	require.NoError(t, s.Save(ctx, "6", core.DateCursor(time.Date(2015, 1, 3, 0, 0, 0, 0, time.Local))))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"1": 57, "6": "20150103"}`, string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileStore_LegacyNumericDate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"6": 20150103, "1": "57"}`), 0o644))
	s := NewFileStore(path)

	c, ok, err := s.Load(context.Background(), "6", core.CursorDate)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "20150103", c.String())

	c, ok, err = s.Load(context.Background(), "1", core.CursorRow)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 57, c.Row)
}

func TestFileStore_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"1": `), 0o644))
	s := NewFileStore(path)

	_, _, err := s.Load(context.Background(), "1", core.CursorRow)
	assert.Error(t, err)
	// A broken file is never silently replaced.
	assert.Error(t, s.Save(context.Background(), "1", core.RowCursor(2)))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Options{Backend: "FILE", Path: filepath.Join(t.TempDir(), "p.json")})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = Open(ctx, Options{Backend: BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = Open(ctx, Options{Backend: "redis"})
	assert.Error(t, err)

	_, err = Open(ctx, Options{Backend: BackendPostgres})
	assert.Error(t, err)
}
