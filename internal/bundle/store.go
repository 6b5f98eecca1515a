// Package bundle implements the bundle store (C3): a scoped, per-session
// directory tree that accumulates uploaded file bytes under their exact
// relative paths, streamed to disk without buffering full bodies in memory.
package bundle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Entry describes one file accumulated in a Bundle.
type Entry struct {
	RelativePath string
	Size         int64
	SHA256       string
}

// Store creates and manages bundle directory trees rooted at a configured
// directory, one subdirectory per staging session.
type Store struct {
	root            string
	maxFileBytes    int64
	maxSessionBytes int64
}

// NewStore prepares a Store rooted at root, creating it if necessary.
func NewStore(root string, maxFileBytes, maxSessionBytes int64) (*Store, error) {
	if root == "" {
		var err error
		root, err = os.MkdirTemp("", "nxrm2portal-bundles-")
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	log.Info().Str("root", root).Msg("bundle store initialized")
	return &Store{root: root, maxFileBytes: maxFileBytes, maxSessionBytes: maxSessionBytes}, nil
}

// Handle is a live, in-progress (or sealed) bundle for one staging session.
type Handle struct {
	store     *Store
	sessionID string
	root      string

	mu        sync.Mutex
	sealed    bool
	destroyed bool
	entries   map[string]Entry
	inflight  map[string]struct{}
	totalSize int64
}

// Create allocates an empty scoped directory for sessionID.
func (s *Store) Create(sessionID string) (*Handle, error) {
	root := filepath.Join(s.root, sessionID)
	if err := os.MkdirAll(root, 0o755); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to create bundle directory")
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return &Handle{
		store:     s,
		sessionID: sessionID,
		root:      root,
		entries:   make(map[string]Entry),
		inflight:  make(map[string]struct{}),
	}, nil
}

// normalizedPath rejects `..`, absolute paths, and any segment that would
// escape the bundle root after joining, per spec.md section 4.3.
func (h *Handle) normalizedPath(relativePath string) (string, error) {
	if relativePath == "" || filepath.IsAbs(relativePath) {
		return "", ErrPathEscape
	}
	for _, segment := range strings.Split(relativePath, "/") {
		if segment == ".." {
			return "", ErrPathEscape
		}
	}

	cleaned := filepath.Clean(relativePath)
	absolute := filepath.Join(h.root, cleaned)
	absRoot, err := filepath.Abs(h.root)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	absPath, err := filepath.Abs(absolute)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if absPath != absRoot && !strings.HasPrefix(absPath, absRoot+string(filepath.Separator)) {
		return "", ErrPathEscape
	}

	return absPath, nil
}

// Put streams bytes from r to the relative_path within handle's bundle,
// using a temporary file and an atomic rename so a client disconnect during
// the write leaves the bundle untouched (spec.md section 4.3, section 5
// cancellation semantics).
func (h *Handle) Put(ctx context.Context, relativePath string, r io.Reader) error {
	absolutePath, err := h.normalizedPath(relativePath)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if h.sealed {
		h.mu.Unlock()
		return ErrSealed
	}
	if _, inflight := h.inflight[relativePath]; inflight {
		h.mu.Unlock()
		return ErrConflict
	}
	h.inflight[relativePath] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.inflight, relativePath)
		h.mu.Unlock()
	}()

	if err := os.MkdirAll(filepath.Dir(absolutePath), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	tempPath := absolutePath + fmt.Sprintf(".tmp.%d", time.Now().UnixNano())
	tempFile, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	cleanupTemp := func() {
		tempFile.Close()
		os.Remove(tempPath)
	}

	hasher := sha256.New()
	limited := &limitedReader{r: r, limit: h.store.maxFileBytes}
	written, err := io.Copy(io.MultiWriter(tempFile, hasher), limited)
	if err != nil {
		cleanupTemp()
		if limited.exceeded {
			return ErrFileTooLarge
		}
		if ctx.Err() != nil {
			log.Debug().Str("session_id", h.sessionID).Str("path", relativePath).Msg("upload cancelled, discarding temp file")
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	select {
	case <-ctx.Done():
		cleanupTemp()
		return ctx.Err()
	default:
	}

	h.mu.Lock()
	previous, hadPrevious := h.entries[relativePath]
	prospectiveTotal := h.totalSize + written
	if hadPrevious {
		prospectiveTotal -= previous.Size
	}
	if h.store.maxSessionBytes > 0 && prospectiveTotal > h.store.maxSessionBytes {
		h.mu.Unlock()
		cleanupTemp()
		return ErrSessionTooLarge
	}
	h.mu.Unlock()

	if err := tempFile.Sync(); err != nil {
		cleanupTemp()
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	tempFile.Close()

	if err := os.Rename(tempPath, absolutePath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	h.mu.Lock()
	h.totalSize = prospectiveTotal
	h.entries[relativePath] = Entry{
		RelativePath: relativePath,
		Size:         written,
		SHA256:       hex.EncodeToString(hasher.Sum(nil)),
	}
	h.mu.Unlock()

	log.Debug().Str("session_id", h.sessionID).Str("path", relativePath).Int64("bytes", written).Msg("file written to bundle")
	return nil
}

// Seal marks the bundle read-only. Subsequent Put calls fail with ErrSealed.
func (h *Handle) Seal() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sealed = true
}

// Sealed reports whether the bundle has been sealed.
func (h *Handle) Sealed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sealed
}

// Entries returns a stable, path-sorted snapshot of the bundle's contents.
func (h *Handle) Entries() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	entries := make([]Entry, 0, len(h.entries))
	for _, entry := range h.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].RelativePath < entries[j].RelativePath })
	return entries
}

// Open opens a previously-put file for reading, for use by Entries-driven
// iteration when building the Portal upload.
func (h *Handle) Open(relativePath string) (io.ReadCloser, error) {
	absolutePath, err := h.normalizedPath(relativePath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(absolutePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return f, nil
}

// Has reports whether relativePath exists in the bundle, for the upload
// probe GET endpoint.
func (h *Handle) Has(relativePath string) bool {
	h.mu.Lock()
	_, ok := h.entries[relativePath]
	h.mu.Unlock()
	return ok
}

// Destroy releases all storage for the bundle. Idempotent.
func (h *Handle) Destroy() error {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return nil
	}
	h.destroyed = true
	h.mu.Unlock()

	if err := os.RemoveAll(h.root); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

type limitedReader struct {
	r        io.Reader
	limit    int64
	read     int64
	exceeded bool
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.limit <= 0 {
		return l.r.Read(p)
	}
	n, err := l.r.Read(p)
	l.read += int64(n)
	if l.read > l.limit {
		l.exceeded = true
		return n, fmt.Errorf("file exceeds limit of %d bytes", l.limit)
	}
	return n, err
}
