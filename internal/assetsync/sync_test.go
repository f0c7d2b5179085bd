package assetsync_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rhplus0831/risugit/internal/assetsync"
	"github.com/rhplus0831/risugit/internal/plugin/blob/dir"
	"github.com/rhplus0831/risugit/internal/plugin/cache/memory"
	"github.com/rhplus0831/risugit/internal/registry/blob"
	"github.com/rhplus0831/risugit/internal/security"
	"github.com/rhplus0831/risugit/internal/syncerr"
	"github.com/stretchr/testify/require"
)

var fastSchedule = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond, time.Millisecond}

// fakeServer is an in-memory asset server.
type fakeServer struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	types   map[string]string
	heads   atomic.Int32
	puts    atomic.Int32
	failPut atomic.Int32 // number of PUTs to answer with 500
	down    atomic.Bool
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	f := &fakeServer{blobs: map[string][]byte{}, types: map[string]string{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.down.Load() {
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/")
	if r.Method != http.MethodHead && r.Header.Get(security.FlagHeader) != "1" {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	switch r.Method {
	case http.MethodHead:
		f.heads.Add(1)
		f.mu.Lock()
		_, ok := f.blobs[name]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
		}
	case http.MethodGet:
		f.mu.Lock()
		data, ok := f.blobs[name]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(data)
	case http.MethodPut:
		if f.failPut.Load() > 0 {
			f.failPut.Add(-1)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		f.puts.Add(1)
		f.mu.Lock()
		f.blobs[name] = data
		f.types[name] = header.Header.Get("Content-Type")
		f.mu.Unlock()
	}
}

func newSyncer(t *testing.T, serverURL string, withCache bool) (*assetsync.Syncer, blob.Store) {
	t.Helper()
	local, err := dir.New(t.TempDir(), "")
	require.NoError(t, err)
	s := &assetsync.Syncer{
		Local:            local,
		Client:           assetsync.NewClient(serverURL+"/", fastSchedule),
		MaxConnections:   3,
		ProgressInterval: 5 * time.Millisecond,
	}
	if withCache {
		c, err := memory.New(1024)
		require.NoError(t, err)
		t.Cleanup(c.Close)
		s.Cache = c
	}
	return s, local
}

func putLocal(t *testing.T, store blob.Store, name, content string) {
	t.Helper()
	_, err := store.Put(context.Background(), name, strings.NewReader(content), "")
	require.NoError(t, err)
}

func TestPushIsIdempotent(t *testing.T) {
	fake, srv := newFakeServer(t)
	s, local := newSyncer(t, srv.URL, true)
	putLocal(t, local, "a.png", "png-bytes")
	ctx := context.Background()

	out, err := s.Push(ctx, "assets/a.png")
	require.NoError(t, err)
	require.Equal(t, assetsync.Uploaded, out)
	require.Equal(t, "image/png", fake.types["a.png"])
	require.Equal(t, "png-bytes", string(fake.blobs["a.png"]))

	heads := fake.heads.Load()
	out, err = s.Push(ctx, "assets/a.png")
	require.NoError(t, err)
	require.Equal(t, assetsync.AlreadyExists, out)
	require.Equal(t, heads, fake.heads.Load(), "cache hit must skip the server")
	require.Equal(t, int32(1), fake.puts.Load())
}

func TestPushWithoutCacheAsksServer(t *testing.T) {
	fake, srv := newFakeServer(t)
	s, local := newSyncer(t, srv.URL, false)
	putLocal(t, local, "b.webp", "x")
	ctx := context.Background()

	_, err := s.Push(ctx, "assets/b.webp")
	require.NoError(t, err)
	out, err := s.Push(ctx, "assets/b.webp")
	require.NoError(t, err)
	require.Equal(t, assetsync.AlreadyExists, out)
	require.Equal(t, int32(2), fake.heads.Load())
	require.Equal(t, int32(1), fake.puts.Load())
}

func TestPushAllUploadsEachAssetOnce(t *testing.T) {
	fake, srv := newFakeServer(t)
	s, local := newSyncer(t, srv.URL, true)

	const n = 25
	refs := make([]string, n)
	for i := range refs {
		name := fmt.Sprintf("%02d.png", i)
		putLocal(t, local, name, name)
		refs[i] = "assets/" + name
	}

	var mu sync.Mutex
	var last assetsync.Progress
	sum, err := s.PushAll(context.Background(), refs, func(p assetsync.Progress) {
		mu.Lock()
		last = p
		mu.Unlock()
	})
	require.NoError(t, err)
	require.Equal(t, assetsync.Summary{Done: n}, sum)
	require.Equal(t, int32(n), fake.puts.Load())
	mu.Lock()
	require.Equal(t, assetsync.Progress{Done: n, Total: n}, last)
	mu.Unlock()

	sum, err = s.PushAll(context.Background(), refs, nil)
	require.NoError(t, err)
	require.Equal(t, assetsync.Summary{Already: n}, sum)
	require.Equal(t, int32(n), fake.puts.Load())
}

func TestPushAllCountsFailures(t *testing.T) {
	_, srv := newFakeServer(t)
	s, local := newSyncer(t, srv.URL, false)
	putLocal(t, local, "ok.png", "x")

	sum, err := s.PushAll(context.Background(), []string{"assets/ok.png", "assets/missing.png"}, nil)
	require.NoError(t, err)
	require.Equal(t, assetsync.Summary{Done: 1, Failed: 1}, sum)
}

func TestUploadRetriesThenSucceeds(t *testing.T) {
	fake, srv := newFakeServer(t)
	fake.failPut.Store(2)
	s, local := newSyncer(t, srv.URL, false)
	putLocal(t, local, "r.gif", "gif")

	out, err := s.Push(context.Background(), "assets/r.gif")
	require.NoError(t, err)
	require.Equal(t, assetsync.Uploaded, out)
	require.Equal(t, "image/gif", fake.types["r.gif"])
}

func TestUploadRetryExhausted(t *testing.T) {
	fake, srv := newFakeServer(t)
	fake.failPut.Store(100)
	s, local := newSyncer(t, srv.URL, false)
	putLocal(t, local, "r.gif", "gif")

	_, err := s.Push(context.Background(), "assets/r.gif")
	require.ErrorIs(t, err, syncerr.ErrUpload)
	require.ErrorIs(t, err, syncerr.ErrRetryExhausted)
	require.Equal(t, int32(100-5), fake.failPut.Load(), "one attempt plus four retries")
}

func TestMissingAssetIsNotRetried(t *testing.T) {
	fake, srv := newFakeServer(t)
	client := assetsync.NewClient(srv.URL, fastSchedule)

	ok, err := client.Exists(context.Background(), "nope.png")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, int32(1), fake.heads.Load())

	_, err = client.Download(context.Background(), "nope.png")
	require.ErrorIs(t, err, assetsync.ErrNotOnServer)
}

func TestServerDownExhaustsRetries(t *testing.T) {
	fake, srv := newFakeServer(t)
	fake.down.Store(true)
	client := assetsync.NewClient(srv.URL, fastSchedule)

	_, err := client.Exists(context.Background(), "a.png")
	require.ErrorIs(t, err, syncerr.ErrRetryExhausted)
}

func TestPullAll(t *testing.T) {
	fake, srv := newFakeServer(t)
	fake.blobs["a.png"] = []byte("A")
	fake.blobs["b.png"] = []byte("B")
	s, local := newSyncer(t, srv.URL, false)
	putLocal(t, local, "b.png", "local B")
	ctx := context.Background()

	sum, err := s.PullAll(ctx, []string{"assets/a.png", "assets/b.png", "assets/c.png"}, nil)
	require.NoError(t, err)
	require.Equal(t, assetsync.Summary{Done: 1, Already: 1, Failed: 1}, sum)

	rc, err := local.Get(ctx, "a.png")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "A", string(data))

	rc, err = local.Get(ctx, "b.png")
	require.NoError(t, err)
	data, err = io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "local B", string(data))
}

type sharedStore struct{ blob.Store }

func (sharedStore) Shared() bool { return true }

func TestPullAllRefusesSharedStore(t *testing.T) {
	_, srv := newFakeServer(t)
	s, local := newSyncer(t, srv.URL, false)
	s.Local = sharedStore{local}

	_, err := s.PullAll(context.Background(), []string{"assets/a.png"}, nil)
	require.ErrorIs(t, err, syncerr.ErrPrecondition)
}

func TestEmptyBatch(t *testing.T) {
	s := &assetsync.Syncer{}
	sum, err := s.PushAll(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Zero(t, sum)
}

func TestMimeType(t *testing.T) {
	for name, want := range map[string]string{
		"a.PNG":  "image/png",
		"a.jpg":  "image/jpeg",
		"a.jpeg": "image/jpeg",
		"a.svg":  "image/svg+xml",
		"a.mp3":  "application/octet-stream",
		"noext":  "application/octet-stream",
	} {
		require.Equal(t, want, assetsync.MimeType(name), name)
	}
}
