package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"library-sync/library"
)

const snapshotContentType = "application/xml"

// Options selects and configures a backend for Open.
type Options struct {
	Driver Driver
	Dir    string
	S3     S3Config
}

// Open returns the backend named by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverFilesystem, "":
		return NewFSStore(opts.Dir)
	case DriverS3:
		return NewS3Store(ctx, opts.S3)
	default:
		return nil, fmt.Errorf("unknown archive driver %q", opts.Driver)
	}
}

// Snapshots files exported documents under `<library>/<timestamp>-<digest>.xml`.
type Snapshots struct {
	store Store
	now   func() time.Time
}

// Ensure Snapshots implements library.Archiver
var _ library.Archiver = (*Snapshots)(nil)

// SnapshotOption configures Snapshots.
type SnapshotOption func(*Snapshots)

// WithSnapshotClock replaces time.Now for snapshot timestamps.
func WithSnapshotClock(now func() time.Time) SnapshotOption {
	return func(s *Snapshots) { s.now = now }
}

// NewSnapshots wraps store.
func NewSnapshots(store Store, opts ...SnapshotOption) *Snapshots {
	s := &Snapshots{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the backend.
func (s *Snapshots) Store() Store { return s.store }

// Archive stores doc and returns its key. Archiving the same document twice
// within one second is a no-op.
func (s *Snapshots) Archive(ctx context.Context, id library.LibraryID, doc []byte) (string, error) {
	digest := library.Digest(doc)
	key := fmt.Sprintf("%s/%s-%s.xml", id, s.now().UTC().Format("20060102T150405Z"), digest[:12])
	_, err := s.store.Put(ctx, key, bytes.NewReader(doc), PutOptions{
		ContentType: snapshotContentType,
		Metadata:    map[string]string{"library": string(id), "digest": digest},
	})
	if err != nil && !errors.Is(err, ErrExists) {
		return "", fmt.Errorf("archive library %s: %w", id, err)
	}
	return key, nil
}

// List returns the snapshots of one library, oldest first.
func (s *Snapshots) List(ctx context.Context, id library.LibraryID) ([]Info, error) {
	return s.store.List(ctx, string(id)+"/")
}

// Fetch returns the document stored under key.
func (s *Snapshots) Fetch(ctx context.Context, key string) ([]byte, error) {
	_, rc, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Prune deletes all but the newest keep snapshots of one library and returns
// the deleted keys, oldest first.
func (s *Snapshots) Prune(ctx context.Context, id library.LibraryID, keep int) ([]string, error) {
	if keep < 0 {
		return nil, fmt.Errorf("keep must not be negative, got %d", keep)
	}
	infos, err := s.List(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(infos) <= keep {
		return nil, nil
	}
	var deleted []string
	for _, info := range infos[:len(infos)-keep] {
		ok, err := s.store.Delete(ctx, info.Key)
		if err != nil {
			return deleted, fmt.Errorf("prune %s: %w", info.Key, err)
		}
		if ok {
			deleted = append(deleted, info.Key)
		}
	}
	return deleted, nil
}

func etagOf(b []byte) string { return library.Digest(b) }
