package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps SQLite database operations
type DB struct {
	db *sql.DB
}

// Open opens or creates a SQLite database
func Open(path string) (*DB, error) {
	// Concurrent writers wait on the lock instead of failing with SQLITE_BUSY
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	storage := &DB{db: db}

	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return storage, nil
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

// initSchema creates tables if they don't exist
func (d *DB) initSchema() error {
	// AUTOINCREMENT keeps ids from being reused
	schema := `
	CREATE TABLE IF NOT EXISTS posts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		filename TEXT NOT NULL,
		caption TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '',
		media_kind TEXT NOT NULL CHECK (media_kind IN ('image', 'video')),
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_created ON posts(created_at);
	`

	_, err := d.db.Exec(schema)
	return err
}

const selectPosts = `
	SELECT id, filename, caption, tags, media_kind, created_at
	FROM posts
	`

const orderNewestFirst = " ORDER BY created_at DESC, id DESC"

// Insert appends a post and returns its id. The id is also set on p.
func (d *DB) Insert(ctx context.Context, p *Post) (int64, error) {
	query := `
	INSERT INTO posts (filename, caption, tags, media_kind, created_at)
	VALUES (?, ?, ?, ?, ?)
	`

	res, err := d.db.ExecContext(ctx, query,
		p.Filename, p.Caption, p.Tags, string(p.MediaKind), p.CreatedAt.UTC(),
	)
	if err != nil {
		return 0, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	p.ID = id

	return id, nil
}

// Get retrieves a post by ID
func (d *DB) Get(ctx context.Context, id int64) (*Post, error) {
	p := &Post{}
	var kind string
	err := d.db.QueryRowContext(ctx, selectPosts+"WHERE id = ?", id).Scan(
		&p.ID, &p.Filename, &p.Caption, &p.Tags, &kind, &p.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.MediaKind = MediaKind(kind)

	return p, nil
}

// List retrieves all posts, newest first
func (d *DB) List(ctx context.Context) ([]*Post, error) {
	return d.query(ctx, selectPosts+orderNewestFirst)
}

// ListMatching retrieves posts whose caption or tags contain query, newest first.
// Matching follows SQLite LIKE, which ignores ASCII case.
func (d *DB) ListMatching(ctx context.Context, query string) ([]*Post, error) {
	pattern := "%" + escapeLike(query) + "%"
	return d.query(ctx,
		selectPosts+`WHERE caption LIKE ? ESCAPE '\' OR tags LIKE ? ESCAPE '\'`+orderNewestFirst,
		pattern, pattern,
	)
}

func (d *DB) query(ctx context.Context, query string, args ...any) ([]*Post, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []*Post
	for rows.Next() {
		p := &Post{}
		var kind string
		if err := rows.Scan(&p.ID, &p.Filename, &p.Caption, &p.Tags, &kind, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.MediaKind = MediaKind(kind)
		posts = append(posts, p)
	}

	return posts, rows.Err()
}

// Count returns the total number of posts
func (d *DB) Count(ctx context.Context) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM posts").Scan(&count)
	return count, err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes LIKE wildcards in s match literally
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
