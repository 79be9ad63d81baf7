// Package ingest validates and persists uploads and serves the feed queries.
package ingest

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/renderinc/kirk-archive/internal/content"
	"github.com/renderinc/kirk-archive/internal/log"
	"github.com/renderinc/kirk-archive/internal/storage"
)

// DefaultMaxUploadSize matches the archive's historical 10MB limit
const DefaultMaxUploadSize = 10 << 20

type Config struct {
	AllowVideo    bool  // Accept mp4/webm/mov in addition to images
	MaxUploadSize int64 // Bytes; zero or less means DefaultMaxUploadSize

	// RemoveOrphans deletes the written file when the post insert fails.
	// Off by default: the file is left behind.
	RemoveOrphans bool
}

// PostStore is the subset of storage.DB the service needs
type PostStore interface {
	Insert(ctx context.Context, p *storage.Post) (int64, error)
	List(ctx context.Context) ([]*storage.Post, error)
	ListMatching(ctx context.Context, query string) ([]*storage.Post, error)
}

// Indexer receives every new post. Optional.
type Indexer interface {
	IndexPost(p *storage.Post) error
}

// Upload is one file submitted for ingest
type Upload struct {
	Filename string // Client-supplied original name
	Data     []byte // nil when no file was attached
	Caption  string
	Tags     string
}

type Health struct {
	OK   bool
	Time time.Time
}

type Service struct {
	cfg     Config
	posts   PostStore
	content content.Store
	index   Indexer
	now     func() time.Time
	token   func(time.Time) string
}

// Option customizes a Service
type Option func(*Service)

// WithIndexer indexes each new post after it is stored
func WithIndexer(idx Indexer) Option {
	return func(s *Service) { s.index = idx }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTokens replaces the stored-name uniqueness token generator
func WithTokens(token func(time.Time) string) Option {
	return func(s *Service) { s.token = token }
}

func NewService(cfg Config, posts PostStore, files content.Store, opts ...Option) *Service {
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = DefaultMaxUploadSize
	}

	s := &Service{
		cfg:     cfg,
		posts:   posts,
		content: files,
		now:     time.Now,
		token:   newToken,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Config() Config {
	return s.cfg
}

// Allowed reports whether ext may be uploaded under this configuration
func (s *Service) Allowed(ext string) bool {
	return imageExtensions[ext] || (s.cfg.AllowVideo && videoExtensions[ext])
}

// Upload validates u, writes the file, then inserts the post.
// Every call that succeeds creates a new post.
func (s *Service) Upload(ctx context.Context, u Upload) (*storage.Post, error) {
	if u.Data == nil || u.Filename == "" {
		return nil, ErrMissingFile
	}
	if int64(len(u.Data)) > s.cfg.MaxUploadSize {
		return nil, ErrTooLarge
	}

	ext := Extension(u.Filename)
	if !s.Allowed(ext) {
		return nil, ErrDisallowedExtension
	}

	now := s.now()
	post := &storage.Post{
		Filename:  StoredName(u.Filename, ext, s.token(now)),
		Caption:   u.Caption,
		Tags:      u.Tags,
		MediaKind: Classify(ext),
		CreatedAt: now.UTC(),
	}

	// File first: a visible post always has its file
	if err := s.content.Put(ctx, post.Filename, bytes.NewReader(u.Data), int64(len(u.Data))); err != nil {
		return nil, &StorageError{Op: "write file", Err: err}
	}

	if _, err := s.posts.Insert(ctx, post); err != nil {
		if s.cfg.RemoveOrphans {
			if rerr := s.content.Remove(context.WithoutCancel(ctx), post.Filename); rerr != nil {
				log.Warn.Printf("remove orphaned file %s: %v", post.Filename, rerr)
			}
		} else {
			log.Warn.Printf("orphaned file %s: post insert failed", post.Filename)
		}
		return nil, &StorageError{Op: "insert post", Err: err}
	}

	if s.index != nil {
		if err := s.index.IndexPost(post); err != nil {
			log.Warn.Printf("index post %d: %v", post.ID, err)
		}
	}

	return post, nil
}

// List returns every post, or only those whose caption or tags contain q
// when q is non-blank. Newest first.
func (s *Service) List(ctx context.Context, q string) ([]*storage.Post, error) {
	q = strings.TrimSpace(q)

	var (
		posts []*storage.Post
		err   error
	)
	if q == "" {
		posts, err = s.posts.List(ctx)
	} else {
		posts, err = s.posts.ListMatching(ctx, q)
	}
	if err != nil {
		return nil, &StorageError{Op: "list posts", Err: err}
	}
	return posts, nil
}

func (s *Service) Health() Health {
	return Health{OK: true, Time: s.now()}
}
