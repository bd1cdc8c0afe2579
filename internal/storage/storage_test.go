package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	logx "nudgebot/pkg/logx"
)

func TestOpenDrivers(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name string
		cfg  Config
	}{
		{"memory", Config{Driver: "memory"}},
		{"empty", Config{}},
		{"file", Config{Driver: "file", Path: filepath.Join(dir, "state.json")}},
		{"sqlite", Config{Driver: "sqlite", Path: filepath.Join(dir, "state.db")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st, err := Open(tc.cfg, logx.Nop())
			require.NoError(t, err)
			defer st.Close()

			ctx := context.Background()
			_, ok, err := st.Get(ctx, "missing")
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, st.Set(ctx, "a", []byte("1")))
			require.NoError(t, st.Set(ctx, "a", []byte("2")))
			got, ok, err := st.Get(ctx, "a")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "2", string(got))

			require.ErrorIs(t, st.Set(ctx, " ", []byte("x")), ErrInvalidKey)
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "etcd"}, logx.Nop())
	require.Error(t, err)
}

func TestFileStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path, CompactEvery: 2}, logx.Nop())
	require.NoError(t, err)
	for _, v := range []string{"1", "2", "3"} {
		require.NoError(t, st.Set(ctx, "k", []byte(v)))
	}
	require.NoError(t, st.Set(ctx, "other", []byte("x")))
	// Skip Close so the reopen path has to replay the journal.
	fs := st.(*fileStore)
	require.NoError(t, fs.journal.Sync())

	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st2.Close()

	got, ok, err := st2.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "3", string(got))
	got, _, _ = st2.Get(ctx, "other")
	require.Equal(t, "x", string(got))
}

func TestFileStoreTornJournal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Set(ctx, "k", []byte("v")))
	fs := st.(*fileStore)
	_, err = fs.journal.WriteString(`{"key":"k","val`)
	require.NoError(t, err)

	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st2.Close()
	got, ok, err := st2.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", string(got))
}

func TestFileStoreCloseCompacts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Set(ctx, "k", []byte("v")))
	require.NoError(t, st.Close())
	require.ErrorIs(t, st.Set(ctx, "k", []byte("v")), ErrClosed)

	info, err := os.Stat(filepath.Join(dir, "state.kv.journal.jsonl"))
	require.NoError(t, err)
	require.Zero(t, info.Size())
	_, err = os.Stat(filepath.Join(dir, "state.kv.snapshot.json"))
	require.NoError(t, err)
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	st := NewMemory()

	type payload struct {
		N int `json:"n"`
	}
	var p payload
	ok, err := LoadJSON(ctx, st, "p", &p)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, SaveJSON(ctx, st, "p", payload{N: 7}))
	ok, err = LoadJSON(ctx, st, "p", &p)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 7, p.N)
}

func TestMemoryFailWrites(t *testing.T) {
	ctx := context.Background()
	st := NewMemory()
	boom := errors.New("disk full")
	st.SetFailWrites(boom)
	require.ErrorIs(t, st.Set(ctx, "k", nil), boom)
	require.Equal(t, 0, st.Writes())

	st.SetFailWrites(nil)
	require.NoError(t, st.Set(ctx, "k", nil))
	require.Equal(t, 1, st.Writes())
}
