package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderinc/kirk-archive/internal/content"
	"github.com/renderinc/kirk-archive/internal/storage"
)

type fixture struct {
	svc     *Service
	db      *storage.DB
	dir     *content.Dir
	dirPath string
}

func newFixture(t *testing.T, cfg Config, opts ...Option) *fixture {
	t.Helper()
	tmp := t.TempDir()

	db, err := storage.Open(filepath.Join(tmp, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	dirPath := filepath.Join(tmp, "uploads")
	dir, err := content.OpenDir(dirPath)
	require.NoError(t, err)
	t.Cleanup(func() { dir.Close() })

	return &fixture{
		svc:     NewService(cfg, db, dir, opts...),
		db:      db,
		dir:     dir,
		dirPath: dirPath,
	}
}

func (f *fixture) files(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.dirPath)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// steppingClock returns strictly increasing times
func steppingClock() func() time.Time {
	t := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestUploadAndSearchScenario(t *testing.T) {
	f := newFixture(t, Config{MaxUploadSize: DefaultMaxUploadSize})
	ctx := context.Background()

	post, err := f.svc.Upload(ctx, Upload{
		Filename: "photo.jpg",
		Data:     []byte("jpeg bytes"),
		Caption:  "hello kirk",
		Tags:     "funny,meme",
	})
	require.NoError(t, err)
	assert.NotZero(t, post.ID)
	assert.Equal(t, storage.MediaImage, post.MediaKind)
	assert.Equal(t, []string{post.Filename}, f.files(t))

	feed, err := f.svc.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Equal(t, "hello kirk", feed[0].Caption)
	assert.Equal(t, "funny,meme", feed[0].Tags)

	found, err := f.svc.List(ctx, "  kirk ")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, post.ID, found[0].ID)

	none, err := f.svc.List(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUploadMissingFile(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, Upload{Filename: "a.png"})
	assert.ErrorIs(t, err, ErrMissingFile)

	_, err = f.svc.Upload(ctx, Upload{Data: []byte("x")})
	assert.ErrorIs(t, err, ErrMissingFile)

	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	posts, err := f.svc.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, posts)
	assert.Empty(t, f.files(t))
}

func TestUploadRejectsDisallowedExtension(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	for _, name := range []string{"script.sh", "noext", "movie.mp4", "page.html", "x.png.exe"} {
		_, err := f.svc.Upload(ctx, Upload{Filename: name, Data: []byte("x")})
		assert.ErrorIs(t, err, ErrDisallowedExtension, name)
	}

	posts, err := f.svc.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, posts)
	assert.Empty(t, f.files(t))
}

func TestUploadRejectsOversized(t *testing.T) {
	f := newFixture(t, Config{MaxUploadSize: 4})

	_, err := f.svc.Upload(context.Background(), Upload{Filename: "a.png", Data: []byte("12345")})
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Empty(t, f.files(t))

	_, err = f.svc.Upload(context.Background(), Upload{Filename: "a.png", Data: []byte("1234")})
	assert.NoError(t, err)
}

func TestZeroMaxUploadSizeUsesDefault(t *testing.T) {
	f := newFixture(t, Config{})
	assert.Equal(t, int64(DefaultMaxUploadSize), f.svc.Config().MaxUploadSize)

	data := make([]byte, DefaultMaxUploadSize+1)
	_, err := f.svc.Upload(context.Background(), Upload{Filename: "a.png", Data: data})
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Empty(t, f.files(t))
}

func TestUploadVideo(t *testing.T) {
	f := newFixture(t, Config{AllowVideo: true})

	post, err := f.svc.Upload(context.Background(), Upload{Filename: "Clip.MP4", Data: []byte("mp4")})
	require.NoError(t, err)
	assert.Equal(t, storage.MediaVideo, post.MediaKind)
	assert.Regexp(t, `^clip-.+\.mp4$`, post.Filename)

	post, err = f.svc.Upload(context.Background(), Upload{Filename: "still.webp", Data: []byte("webp")})
	require.NoError(t, err)
	assert.Equal(t, storage.MediaImage, post.MediaKind)
}

func TestUploadSameNameTwice(t *testing.T) {
	f := newFixture(t, Config{}, WithClock(steppingClock()))
	ctx := context.Background()

	before, err := f.svc.List(ctx, "")
	require.NoError(t, err)

	a, err := f.svc.Upload(ctx, Upload{Filename: "a.png", Data: []byte("same")})
	require.NoError(t, err)
	b, err := f.svc.Upload(ctx, Upload{Filename: "a.png", Data: []byte("same")})
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.Filename, b.Filename)

	after, err := f.svc.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, after, len(before)+2)
	assert.Equal(t, b.ID, after[0].ID, "newest first")
	assert.ElementsMatch(t, []string{a.Filename, b.Filename}, f.files(t))
}

func TestUploadTraversalStaysInDirectory(t *testing.T) {
	f := newFixture(t, Config{})
	parent := filepath.Dir(f.dirPath)

	post, err := f.svc.Upload(context.Background(), Upload{Filename: "../../evil.png", Data: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, []string{post.Filename}, f.files(t))

	_, err = os.Stat(filepath.Join(parent, "evil.png"))
	assert.True(t, os.IsNotExist(err))
}

func TestUploadUsesInjectedToken(t *testing.T) {
	f := newFixture(t, Config{}, WithTokens(func(time.Time) string { return "fixed" }))

	post, err := f.svc.Upload(context.Background(), Upload{Filename: "Kirk Pic.PNG", Data: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, "kirk-pic-fixed.png", post.Filename)

	// A colliding name is a storage failure, never an overwrite
	_, err = f.svc.Upload(context.Background(), Upload{Filename: "Kirk Pic.PNG", Data: []byte("y")})
	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "write file", serr.Op)
	assert.ErrorIs(t, err, content.ErrExists)
}

type failingPosts struct {
	PostStore
}

var errDiskFull = errors.New("disk full")

func (failingPosts) Insert(context.Context, *storage.Post) (int64, error) {
	return 0, errDiskFull
}

func (failingPosts) List(context.Context) ([]*storage.Post, error) {
	return nil, errDiskFull
}

func TestInsertFailureLeavesOrphanByDefault(t *testing.T) {
	f := newFixture(t, Config{})
	svc := NewService(Config{}, failingPosts{}, f.dir)

	_, err := svc.Upload(context.Background(), Upload{Filename: "a.png", Data: []byte("x")})
	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "insert post", serr.Op)
	assert.ErrorIs(t, err, errDiskFull)

	// Known gap: the written file stays behind
	assert.Len(t, f.files(t), 1)
}

func TestInsertFailureRemovesOrphanWhenConfigured(t *testing.T) {
	f := newFixture(t, Config{})
	svc := NewService(Config{RemoveOrphans: true}, failingPosts{}, f.dir)

	_, err := svc.Upload(context.Background(), Upload{Filename: "a.png", Data: []byte("x")})
	assert.ErrorIs(t, err, errDiskFull)
	assert.Empty(t, f.files(t))
}

func TestListWrapsStorageErrors(t *testing.T) {
	f := newFixture(t, Config{})
	svc := NewService(Config{}, failingPosts{}, f.dir)

	_, err := svc.List(context.Background(), "")
	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "list posts", serr.Op)
}

type recordingIndex struct {
	posts []*storage.Post
	err   error
}

func (r *recordingIndex) IndexPost(p *storage.Post) error {
	r.posts = append(r.posts, p)
	return r.err
}

func TestUploadIndexesPost(t *testing.T) {
	idx := &recordingIndex{}
	f := newFixture(t, Config{}, WithIndexer(idx))

	post, err := f.svc.Upload(context.Background(), Upload{Filename: "a.gif", Data: []byte("x"), Tags: "kirk"})
	require.NoError(t, err)
	require.Len(t, idx.posts, 1)
	assert.Equal(t, post.ID, idx.posts[0].ID)
}

func TestUploadSucceedsWhenIndexFails(t *testing.T) {
	idx := &recordingIndex{err: errors.New("index closed")}
	f := newFixture(t, Config{}, WithIndexer(idx))

	_, err := f.svc.Upload(context.Background(), Upload{Filename: "a.gif", Data: []byte("x")})
	require.NoError(t, err)

	posts, err := f.svc.List(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, posts, 1)
}

func TestHealth(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, Config{}, WithClock(func() time.Time { return at }))

	h := f.svc.Health()
	assert.True(t, h.OK)
	assert.Equal(t, at, h.Time)
}
