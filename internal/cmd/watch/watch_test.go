package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rhplus0831/risugit/internal/service"
	"github.com/stretchr/testify/require"
)

func TestWatchFileTriggersAfterQuiet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "database.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))

	fired := make(chan struct{}, 4)
	d := service.NewDebouncer(50*time.Millisecond, func() { fired <- struct{}{} })
	defer d.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watchFile(ctx, path, d) }()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0o600))
	select {
	case <-fired:
		t.Fatal("unrelated file triggered a save")
	case <-time.After(200 * time.Millisecond):
	}

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte(`{"n":1}`), 0o600))
		time.Sleep(10 * time.Millisecond)
	}
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("debouncer never fired")
	}
	select {
	case <-fired:
		t.Fatal("a burst of writes fired more than once")
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	require.NoError(t, <-done)
}
