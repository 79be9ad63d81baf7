package search

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/renderinc/kirk-archive/internal/storage"
)

// Index wraps a Bleve search index
type Index struct {
	index bleve.Index
}

// IndexedPost represents a post in the search index
type IndexedPost struct {
	ID        string
	Caption   string
	Tags      string
	Filename  string
	MediaKind string
	CreatedAt time.Time
}

// SearchResult represents a search result
type SearchResult struct {
	PostID    int64               `json:"id"`
	Caption   string              `json:"caption"`
	Tags      string              `json:"tags"`
	Filename  string              `json:"filename"`
	MediaKind string              `json:"media_kind"`
	Score     float64             `json:"score"`
	Fragments map[string][]string `json:"fragments,omitempty"` // Highlighted snippets
}

// Source lists the posts an index is rebuilt from
type Source interface {
	List(ctx context.Context) ([]*storage.Post, error)
}

// Open opens or creates a Bleve index
func Open(path string) (*Index, error) {
	var idx bleve.Index
	var err error

	// Try to open existing index
	idx, err = bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	return &Index{index: idx}, nil
}

// OpenMem creates an in-memory index
func OpenMem() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	return &Index{index: idx}, nil
}

// buildIndexMapping analyzes text with the English analyzer. It is also the
// default, so unqualified query-string terms are stemmed the same way the
// captions were.
func buildIndexMapping() mapping.IndexMapping {
	captionFieldMapping := bleve.NewTextFieldMapping()
	captionFieldMapping.Analyzer = "en"

	kindFieldMapping := bleve.NewKeywordFieldMapping()

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("ID", bleve.NewKeywordFieldMapping())
	docMapping.AddFieldMappingsAt("Caption", captionFieldMapping)
	docMapping.AddFieldMappingsAt("Tags", bleve.NewTextFieldMapping())
	docMapping.AddFieldMappingsAt("Filename", bleve.NewTextFieldMapping())
	docMapping.AddFieldMappingsAt("MediaKind", kindFieldMapping)
	docMapping.AddFieldMappingsAt("CreatedAt", bleve.NewDateTimeFieldMapping())

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = "en"
	indexMapping.AddDocumentMapping("_default", docMapping)

	return indexMapping
}

// Close closes the index
func (i *Index) Close() error {
	return i.index.Close()
}

func toIndexed(p *storage.Post) *IndexedPost {
	return &IndexedPost{
		ID:        strconv.FormatInt(p.ID, 10),
		Caption:   p.Caption,
		Tags:      p.Tags,
		Filename:  p.Filename,
		MediaKind: string(p.MediaKind),
		CreatedAt: p.CreatedAt,
	}
}

// IndexPost adds or updates a post in the index
func (i *Index) IndexPost(p *storage.Post) error {
	doc := toIndexed(p)
	return i.index.Index(doc.ID, doc)
}

// Search performs a query-string search (phrases, fuzzy ~, +/- terms)
func (i *Index) Search(queryStr string, limit int) ([]*SearchResult, error) {
	query := bleve.NewQueryStringQuery(queryStr)

	search := bleve.NewSearchRequestOptions(query, limit, 0, false)
	search.Highlight = bleve.NewHighlightWithStyle("html")
	search.Fields = []string{"Caption", "Tags", "Filename", "MediaKind"}

	results, err := i.index.Search(search)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	searchResults := make([]*SearchResult, 0, len(results.Hits))
	for _, hit := range results.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad document id %q: %w", hit.ID, err)
		}

		result := &SearchResult{
			PostID:    id,
			Score:     hit.Score,
			Fragments: hit.Fragments,
		}

		if caption, ok := hit.Fields["Caption"].(string); ok {
			result.Caption = caption
		}
		if tags, ok := hit.Fields["Tags"].(string); ok {
			result.Tags = tags
		}
		if filename, ok := hit.Fields["Filename"].(string); ok {
			result.Filename = filename
		}
		if kind, ok := hit.Fields["MediaKind"].(string); ok {
			result.MediaKind = kind
		}

		searchResults = append(searchResults, result)
	}

	return searchResults, nil
}

// Rebuild indexes every post from src in batches. progress may be nil.
func (i *Index) Rebuild(ctx context.Context, src Source, progress func(current, total int)) error {
	posts, err := src.List(ctx)
	if err != nil {
		return fmt.Errorf("list posts: %w", err)
	}

	const batchSize = 500

	batch := i.index.NewBatch()
	for n, p := range posts {
		if err := ctx.Err(); err != nil {
			return err
		}

		doc := toIndexed(p)
		if err := batch.Index(doc.ID, doc); err != nil {
			return fmt.Errorf("batch index %s: %w", doc.ID, err)
		}

		if batch.Size() >= batchSize || n == len(posts)-1 {
			if err := i.index.Batch(batch); err != nil {
				return fmt.Errorf("commit batch: %w", err)
			}
			batch.Reset()
			if progress != nil {
				progress(n+1, len(posts))
			}
		}
	}

	return nil
}

// Count returns the number of posts in the index
func (i *Index) Count() (uint64, error) {
	return i.index.DocCount()
}
