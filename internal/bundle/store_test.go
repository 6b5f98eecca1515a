package bundle

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingReader signals started on its first Read, then waits for proceed
// before returning any bytes, so a test can hold a Put call mid-write while
// it drives a second, concurrent Put at the same relative path.
type blockingReader struct {
	data    []byte
	started chan struct{}
	proceed chan struct{}
	once    sync.Once
}

func (b *blockingReader) Read(p []byte) (int, error) {
	b.once.Do(func() { close(b.started) })
	<-b.proceed
	n := copy(p, b.data)
	b.data = b.data[n:]
	if len(b.data) == 0 {
		return n, io.EOF
	}
	return n, nil
}

func newTestStore(t *testing.T, maxFile, maxSession int64) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStore(dir, maxFile, maxSession)
	require.NoError(t, err)
	return store
}

func TestHandlePutAndOpenRoundTrip(t *testing.T) {
	store := newTestStore(t, 0, 0)
	handle, err := store.Create("com.example-1")
	require.NoError(t, err)

	content := "<project>pom contents</project>"
	err = handle.Put(context.Background(), "com/example/widget/1.0/widget-1.0.pom", strings.NewReader(content))
	require.NoError(t, err)

	entries := handle.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "com/example/widget/1.0/widget-1.0.pom", entries[0].RelativePath)
	assert.Equal(t, int64(len(content)), entries[0].Size)

	rc, err := handle.Open(entries[0].RelativePath)
	require.NoError(t, err)
	defer rc.Close()
	read, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, string(read))
}

func TestHandlePutRejectsPathEscape(t *testing.T) {
	store := newTestStore(t, 0, 0)
	handle, err := store.Create("com.example-1")
	require.NoError(t, err)

	err = handle.Put(context.Background(), "../../etc/passwd", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrPathEscape)

	err = handle.Put(context.Background(), "/etc/passwd", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrPathEscape)
}

func TestHandlePutRejectsAfterSeal(t *testing.T) {
	store := newTestStore(t, 0, 0)
	handle, err := store.Create("com.example-1")
	require.NoError(t, err)

	handle.Seal()
	err = handle.Put(context.Background(), "a.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrSealed)
}

func TestHandlePutEnforcesFileSizeLimit(t *testing.T) {
	store := newTestStore(t, 4, 0)
	handle, err := store.Create("com.example-1")
	require.NoError(t, err)

	err = handle.Put(context.Background(), "a.txt", strings.NewReader("too many bytes"))
	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.False(t, handle.Has("a.txt"))
}

func TestHandlePutEnforcesSessionSizeLimit(t *testing.T) {
	store := newTestStore(t, 0, 10)
	handle, err := store.Create("com.example-1")
	require.NoError(t, err)

	require.NoError(t, handle.Put(context.Background(), "a.txt", strings.NewReader("12345")))
	err = handle.Put(context.Background(), "b.txt", strings.NewReader("1234567890"))
	assert.ErrorIs(t, err, ErrSessionTooLarge)
}

func TestHandleDestroyIsIdempotent(t *testing.T) {
	store := newTestStore(t, 0, 0)
	handle, err := store.Create("com.example-1")
	require.NoError(t, err)
	require.NoError(t, handle.Put(context.Background(), "a.txt", strings.NewReader("x")))

	require.NoError(t, handle.Destroy())
	require.NoError(t, handle.Destroy())

	_, err = handle.Open("a.txt")
	assert.Error(t, err)
}

func TestHandlePutRejectsConcurrentSamePathWrite(t *testing.T) {
	store := newTestStore(t, 0, 0)
	handle, err := store.Create("com.example-1")
	require.NoError(t, err)

	started := make(chan struct{})
	proceed := make(chan struct{})
	reader := &blockingReader{data: []byte("first version"), started: started, proceed: proceed}

	firstErr := make(chan error, 1)
	go func() {
		firstErr <- handle.Put(context.Background(), "a.txt", reader)
	}()

	<-started // the first Put has claimed "a.txt" as inflight and is blocked mid-write

	err = handle.Put(context.Background(), "a.txt", strings.NewReader("second version"))
	assert.ErrorIs(t, err, ErrConflict)

	close(proceed)
	require.NoError(t, <-firstErr)

	entries := handle.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(len("first version")), entries[0].Size)
}

func TestHandlePutOverwriteUpdatesEntry(t *testing.T) {
	store := newTestStore(t, 0, 0)
	handle, err := store.Create("com.example-1")
	require.NoError(t, err)

	require.NoError(t, handle.Put(context.Background(), "a.txt", strings.NewReader("first")))
	require.NoError(t, handle.Put(context.Background(), "a.txt", strings.NewReader("second-version")))

	entries := handle.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(len("second-version")), entries[0].Size)
}
