// Package blob implements the file-storage half of the local backend
// emulation: binary payloads addressed by hierarchical paths, with a
// descriptor index kept in the substrate and the bytes on disk beside it.
//
// Paths are namespaced as <category>/<subcategory>/<uniqueName> so lookup
// and deletion are prefix-free and collision-resistant. Leaf uniqueness
// comes from combining the identity id, a semantic label and a millisecond
// timestamp; enough entropy for a single-writer local setup, not a
// cryptographic guarantee.
package blob

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/signbase/signbase/internal/errcode"
	"github.com/signbase/signbase/internal/kvstore"
)

// DefaultPutTimeout is the time budget for a write before Put gives up.
// The hosted service can stall on a slow network; the budget bounds how
// long a caller is held up.
const DefaultPutTimeout = 30 * time.Second

// Descriptor is the indexed metadata of a stored blob.
type Descriptor struct {
	ContentType    string            `json:"contentType"`
	SizeBytes      int64             `json:"sizeBytes"`
	CustomMetadata map[string]string `json:"customMetadata,omitempty"`
	Created        time.Time         `json:"created"`
}

// Handle references a stored blob.
type Handle struct {
	Path string
	URI  string
	Descriptor
}

// Content is a blob's payload plus its descriptor.
type Content struct {
	Data []byte
	Descriptor
}

// Store is the blob store.
type Store struct {
	kv  kvstore.Store
	dir string

	// PutTimeout bounds how long Put blocks. After it elapses Put fails
	// with Timeout even if the underlying write is still in flight, in
	// which case the caller cannot assume the write did or did not
	// complete.
	PutTimeout time.Duration

	mu sync.Mutex // serializes index read-modify-write cycles
}

// New creates a blob store keeping payloads under dir and the index in the
// substrate.
func New(kv kvstore.Store, dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory %s: %w", dir, err)
	}
	return &Store{kv: kv, dir: dir, PutTimeout: DefaultPutTimeout}, nil
}

// Put stores content at path, replacing any existing blob there. Empty
// content fails with InvalidArgument.
func (s *Store) Put(ctx context.Context, path string, content io.Reader, contentType string, customMetadata map[string]string) (*Handle, error) {
	if path == "" {
		return nil, errcode.InvalidArgument("blob path is required")
	}
	if content == nil {
		return nil, errcode.InvalidArgument("blob content is required")
	}
	ctx, cancel := context.WithTimeout(ctx, s.PutTimeout)
	defer cancel()

	type result struct {
		handle *Handle
		err    error
	}
	done := make(chan result, 1)
	go func() {
		h, err := s.put(path, content, contentType, customMetadata)
		done <- result{handle: h, err: err}
	}()
	select {
	case r := <-done:
		return r.handle, r.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errcode.Newf(errcode.CodeTimeout, "blob write to %s exceeded %s", path, s.PutTimeout)
		}
		return nil, errcode.Timeout("blob write canceled").Wrap(ctx.Err())
	}
}

func (s *Store) put(path string, content io.Reader, contentType string, customMetadata map[string]string) (*Handle, error) {
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return nil, errcode.StorageFailure("failed to create temp file", err)
	}
	size, err := io.Copy(tmp, content)
	if err2 := tmp.Close(); err == nil {
		err = err2
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return nil, errcode.StorageFailure("failed to write blob content", err)
	}
	if size == 0 {
		_ = os.Remove(tmp.Name())
		return nil, errcode.InvalidArgument("blob content is empty")
	}
	target := s.pathFor(path)
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return nil, errcode.StorageFailure("failed to finalize blob", err)
	}

	desc := Descriptor{
		ContentType:    contentType,
		SizeBytes:      size,
		CustomMetadata: customMetadata,
		Created:        time.Now().UTC(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	index[path] = desc
	if err := s.saveIndex(index); err != nil {
		return nil, err
	}
	return &Handle{Path: path, URI: s.uriFor(target), Descriptor: desc}, nil
}

// GetDownloadReference returns a URI for the blob at path.
func (s *Store) GetDownloadReference(path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	index, err := s.loadIndex()
	if err != nil {
		return "", err
	}
	if _, ok := index[path]; !ok {
		return "", errcode.NotFound("blob")
	}
	return s.uriFor(s.pathFor(path)), nil
}

// GetContent returns the payload bytes, content type and custom metadata
// of the blob at path.
func (s *Store) GetContent(path string) (*Content, error) {
	s.mu.Lock()
	index, err := s.loadIndex()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	desc, ok := index[path]
	if !ok {
		return nil, errcode.NotFound("blob")
	}
	data, err := os.ReadFile(s.pathFor(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errcode.NotFound("blob")
		}
		return nil, errcode.StorageFailure("failed to read blob content", err)
	}
	return &Content{Data: data, Descriptor: desc}, nil
}

// Delete removes the blob at path. Idempotent; an absent path is not an
// error.
func (s *Store) Delete(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	if _, ok := index[path]; ok {
		delete(index, path)
		if err := s.saveIndex(index); err != nil {
			return err
		}
	}
	if err := os.Remove(s.pathFor(path)); err != nil && !os.IsNotExist(err) {
		return errcode.StorageFailure("failed to remove blob content", err)
	}
	return nil
}

// ObjectName builds a collision-resistant leaf name from the identity id
// and a semantic label, e.g. "2cL-0qkX_hello_1714089600000.webm".
func ObjectName(identityID, label, extension string) string {
	return fmt.Sprintf("%s_%s_%d%s", identityID, label, time.Now().UnixMilli(), extension)
}

func (s *Store) pathFor(path string) string {
	return filepath.Join(s.dir, url.PathEscape(path)+".bin")
}

func (s *Store) uriFor(target string) string {
	abs, err := filepath.Abs(target)
	if err != nil {
		abs = target
	}
	return "file://" + abs
}

func (s *Store) loadIndex() (map[string]Descriptor, error) {
	raw, ok, err := s.kv.Get(kvstore.KeyBlobIndex)
	if err != nil {
		return nil, errcode.StorageFailure("failed to read blob index", err)
	}
	if !ok {
		return map[string]Descriptor{}, nil
	}
	var index map[string]Descriptor
	if err := json.Unmarshal([]byte(raw), &index); err != nil {
		return nil, errcode.StorageFailure("failed to decode blob index", err)
	}
	return index, nil
}

func (s *Store) saveIndex(index map[string]Descriptor) error {
	data, err := json.Marshal(index)
	if err != nil {
		return errcode.StorageFailure("failed to encode blob index", err)
	}
	if err := s.kv.Set(kvstore.KeyBlobIndex, string(data)); err != nil {
		return errcode.StorageFailure("failed to write blob index", err)
	}
	return nil
}
