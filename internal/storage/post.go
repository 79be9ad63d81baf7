package storage

import "time"

// MediaKind classifies a post's file
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// Post represents one uploaded media item
type Post struct {
	ID        int64     `db:"id" json:"id"`
	Filename  string    `db:"filename" json:"filename"` // Name in the content directory
	Caption   string    `db:"caption" json:"caption"`
	Tags      string    `db:"tags" json:"tags"` // Comma-separated, stored as typed
	MediaKind MediaKind `db:"media_kind" json:"media_kind"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// IsVideo reports whether the post should render as a video
func (p *Post) IsVideo() bool {
	return p.MediaKind == MediaVideo
}
