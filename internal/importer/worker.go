// Package importer bulk-ingests files from a local directory.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/renderinc/kirk-archive/internal/ingest"
	"github.com/renderinc/kirk-archive/internal/log"
	"github.com/renderinc/kirk-archive/internal/storage"
)

const defaultConcurrency = 5

// Uploader is satisfied by *ingest.Service
type Uploader interface {
	Upload(ctx context.Context, u ingest.Upload) (*storage.Post, error)
}

// Worker pushes local files through the regular upload path
type Worker struct {
	uploader    Uploader
	concurrency int
}

// NewWorker creates a new import worker (concurrency <= 0 uses the default)
func NewWorker(uploader Uploader, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Worker{
		uploader:    uploader,
		concurrency: concurrency,
	}
}

// Options apply to every imported file
type Options struct {
	Caption string
	Tags    string
}

// Stats holds import statistics
type Stats struct {
	TotalFiles int
	Imported   int
	Skipped    int // Rejected by validation
	Errors     int
	Duration   time.Duration
}

// Import walks dir recursively and uploads every regular file
func (w *Worker) Import(ctx context.Context, dir string, opts Options) (*Stats, error) {
	startTime := time.Now()
	stats := &Stats{}

	log.Info.Printf("Scanning %s...", dir)

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}

	stats.TotalFiles = len(paths)
	log.Info.Printf("Found %d files", stats.TotalFiles)

	pathChan := make(chan string, len(paths))
	for _, p := range paths {
		pathChan <- p
	}
	close(pathChan)

	var wg sync.WaitGroup
	var mu sync.Mutex

	for range w.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range pathChan {
				if ctx.Err() != nil {
					return
				}
				w.importFile(ctx, path, opts, stats, &mu)
			}
		}()
	}

	wg.Wait()

	stats.Duration = time.Since(startTime)
	log.Info.Printf("Import complete: %d imported, %d skipped, %d errors in %v",
		stats.Imported, stats.Skipped, stats.Errors, stats.Duration)

	return stats, ctx.Err()
}

// importFile uploads a single file and records the outcome
func (w *Worker) importFile(ctx context.Context, path string, opts Options, stats *Stats, mu *sync.Mutex) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Error.Printf("Error reading %s: %v", path, err)
		mu.Lock()
		stats.Errors++
		mu.Unlock()
		return
	}

	post, err := w.uploader.Upload(ctx, ingest.Upload{
		Filename: filepath.Base(path),
		Data:     data,
		Caption:  opts.Caption,
		Tags:     opts.Tags,
	})

	var verr *ingest.ValidationError
	switch {
	case errors.As(err, &verr):
		log.Warn.Printf("Skipping %s: %v", path, verr)
		mu.Lock()
		stats.Skipped++
		mu.Unlock()
	case err != nil:
		log.Error.Printf("Error importing %s: %v", path, err)
		mu.Lock()
		stats.Errors++
		mu.Unlock()
	default:
		log.Info.Printf("Imported %s as %s", path, post.Filename)
		mu.Lock()
		stats.Imported++
		mu.Unlock()
	}
}
