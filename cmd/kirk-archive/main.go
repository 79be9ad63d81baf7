package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/renderinc/kirk-archive/internal/content"
	"github.com/renderinc/kirk-archive/internal/importer"
	"github.com/renderinc/kirk-archive/internal/ingest"
	"github.com/renderinc/kirk-archive/internal/log"
	"github.com/renderinc/kirk-archive/internal/search"
	"github.com/renderinc/kirk-archive/internal/storage"
	"github.com/renderinc/kirk-archive/internal/web"
)

var (
	dataDir    string
	dbPath     string
	indexPath  string
	uploadsDir string
)

func main() {
	// Parse global flags
	globalFlags := flag.NewFlagSet("global", flag.ExitOnError)
	dataDirFlag := globalFlags.String("data-dir", "./data", "Directory for database, index and uploads")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// Find where the command starts (skip global flags)
	commandIdx := 1
	for i := 1; i < len(os.Args); i++ {
		if !strings.HasPrefix(os.Args[i], "-") {
			commandIdx = i
			break
		}
	}

	if commandIdx > 1 {
		globalFlags.Parse(os.Args[1:commandIdx])
	}

	dataDir = *dataDirFlag
	dbPath = dataDir + "/archive.db"
	indexPath = dataDir + "/bleve"
	uploadsDir = dataDir + "/uploads"

	command := os.Args[commandIdx]
	args := os.Args[commandIdx+1:]

	switch command {
	case "serve":
		serveFlags := flag.NewFlagSet("serve", flag.ExitOnError)
		host := serveFlags.String("host", "localhost", "Host to bind to")
		port := serveFlags.String("port", "5000", "Port to listen on")
		maxUploadMB := serveFlags.Int64("max-upload-mb", ingest.DefaultMaxUploadSize>>20, "Maximum upload size in MB")
		allowVideo := serveFlags.Bool("allow-video", false, "Accept mp4/webm/mov uploads")
		removeOrphans := serveFlags.Bool("remove-orphans", false, "Delete the stored file when saving its post fails")

		serveFlags.Parse(args)

		if *maxUploadMB <= 0 {
			fmt.Println("Error: -max-upload-mb must be positive")
			os.Exit(1)
		}

		runServe(*host, *port, ingest.Config{
			AllowVideo:    *allowVideo,
			MaxUploadSize: *maxUploadMB << 20,
			RemoveOrphans: *removeOrphans,
		})
	case "list":
		listFlags := flag.NewFlagSet("list", flag.ExitOnError)
		query := listFlags.String("q", "", "Only posts whose caption or tags contain this text")

		listFlags.Parse(args)

		runList(*query)
	case "search":
		if len(args) < 1 {
			fmt.Println("Error: search query required")
			fmt.Println("Usage: kirk-archive [--data-dir=<dir>] search <query>")
			os.Exit(1)
		}
		runSearch(strings.Join(args, " "))
	case "import":
		importFlags := flag.NewFlagSet("import", flag.ExitOnError)
		tags := importFlags.String("tags", "", "Tags for every imported file")
		caption := importFlags.String("caption", "", "Caption for every imported file")
		allowVideo := importFlags.Bool("allow-video", false, "Accept mp4/webm/mov files")
		concurrency := importFlags.Int("concurrency", 5, "Number of files imported at once")

		importFlags.Parse(args)

		if importFlags.NArg() < 1 {
			fmt.Println("Error: directory required")
			fmt.Println("Usage: kirk-archive [--data-dir=<dir>] import [flags] <dir>")
			os.Exit(1)
		}
		runImport(importFlags.Arg(0), *allowVideo, *concurrency, importer.Options{Caption: *caption, Tags: *tags})
	case "reindex":
		runReindex()
	case "stats":
		runStats()
	case "get-post":
		if len(args) < 1 {
			fmt.Println("Error: post ID required")
			fmt.Println("Usage: kirk-archive [--data-dir=<dir>] get-post <post-id>")
			os.Exit(1)
		}
		runGetPost(args[0])
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Kirk Archive - share and search captioned images")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  kirk-archive [global-flags] <command> [flags]")
	fmt.Println()
	fmt.Println("Global Flags:")
	fmt.Println("  --data-dir=<dir>  Directory for database, index and uploads (default: ./data)")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve [flags]            Start web server")
	fmt.Println("  list [-q <text>]         Print the feed, newest first")
	fmt.Println("  search <query>           Ranked keyword search over captions and tags")
	fmt.Println("  import [flags] <dir>     Upload every file in a directory")
	fmt.Println("  reindex                  Rebuild the keyword search index")
	fmt.Println("  stats                    Show post and index counts")
	fmt.Println("  get-post <id>            Show one post")
	fmt.Println()
	fmt.Println("Serve Flags:")
	fmt.Println("  -host=<host>          Host to bind to (default: localhost)")
	fmt.Println("  -port=<port>          Port to listen on (default: 5000)")
	fmt.Println("  -max-upload-mb=<n>    Maximum upload size (default: 10)")
	fmt.Println("  -allow-video          Accept mp4/webm/mov uploads")
	fmt.Println("  -remove-orphans       Delete the stored file when saving its post fails")
	fmt.Println()
	fmt.Println("Import Flags:")
	fmt.Println("  -tags=<tags>          Tags for every imported file")
	fmt.Println("  -caption=<text>       Caption for every imported file")
	fmt.Println("  -allow-video          Accept mp4/webm/mov files")
	fmt.Println("  -concurrency=<n>      Files imported at once (default: 5)")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  S3_ENDPOINT, S3_ACCESS_KEY, S3_SECRET_KEY, S3_BUCKET, S3_USE_SSL")
	fmt.Println("      Store uploads in an S3-compatible bucket instead of <data-dir>/uploads")
	fmt.Println("  OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_SERVICE_NAME")
	fmt.Println("      Export request traces over OTLP/HTTP")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  kirk-archive serve                               # http://localhost:5000")
	fmt.Println("  kirk-archive serve -allow-video -port=8080")
	fmt.Println("  kirk-archive list -q kirk")
	fmt.Println("  kirk-archive search 'captian~'                   # Fuzzy search")
	fmt.Println("  kirk-archive import -tags=kirk,meme ~/Pictures/kirk")
}

func openDB() *storage.DB {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		log.Error.Fatalf("Error creating data directory: %v", err)
	}
	db, err := storage.Open(dbPath)
	if err != nil {
		log.Error.Fatalf("Error opening database: %v", err)
	}
	return db
}

// openContent picks the S3 backend when S3_ENDPOINT is set, the local
// uploads directory otherwise
func openContent(ctx context.Context) (content.Store, func() error) {
	if endpoint := os.Getenv("S3_ENDPOINT"); endpoint != "" {
		useSSL, _ := strconv.ParseBool(os.Getenv("S3_USE_SSL"))
		store, err := content.NewS3(content.S3Config{
			Endpoint:  endpoint,
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
			UseSSL:    useSSL,
			Bucket:    envOr("S3_BUCKET", "kirk-archive"),
		})
		if err != nil {
			log.Error.Fatalf("Error creating S3 client: %v", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			log.Error.Fatalf("Error ensuring bucket: %v", err)
		}
		log.Info.Printf("Storing uploads in S3 bucket %s at %s", envOr("S3_BUCKET", "kirk-archive"), endpoint)
		return store, func() error { return nil }
	}

	dir, err := content.OpenDir(uploadsDir)
	if err != nil {
		log.Error.Fatalf("Error opening uploads directory: %v", err)
	}
	log.Info.Printf("Storing uploads in %s", dir.Path())
	return dir, dir.Close
}

func openIndex() *search.Index {
	idx, err := search.Open(indexPath)
	if err != nil {
		log.Error.Fatalf("Error opening search index: %v", err)
	}
	return idx
}

func runServe(host, port string, cfg ingest.Config) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := initTracing(ctx)
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(c)
	}()

	db := openDB()
	defer db.Close()

	files, closeFiles := openContent(ctx)
	defer closeFiles()

	idx := openIndex()
	defer idx.Close()

	svc := ingest.NewService(cfg, db, files, ingest.WithIndexer(idx))

	server, err := web.NewServer(svc, files, idx)
	if err != nil {
		log.Error.Fatalf("Error creating server: %v", err)
	}

	addr := fmt.Sprintf("%s:%s", host, port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	fmt.Println()
	fmt.Println("=== Kirk Archive Web Server ===")
	fmt.Printf("Server running at: http://%s\n", addr)
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		log.Error.Fatalf("Error starting server: %v", err)
	case <-ctx.Done():
		log.Info.Println("Shutting down...")
		c, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(c); err != nil {
			log.Warn.Printf("Shutdown: %v", err)
		}
	}
}

func runList(query string) {
	db := openDB()
	defer db.Close()

	files, closeFiles := openContent(context.Background())
	defer closeFiles()

	svc := ingest.NewService(ingest.Config{}, db, files)
	posts, err := svc.List(context.Background(), query)
	if err != nil {
		log.Error.Fatalf("Error listing posts: %v", err)
	}

	if len(posts) == 0 {
		fmt.Println("No posts found")
		return
	}

	for _, p := range posts {
		fmt.Printf("#%d  %s  [%s]  %s\n", p.ID, p.CreatedAt.Format(time.RFC3339), p.MediaKind, p.Filename)
		if p.Caption != "" {
			fmt.Printf("     %s\n", p.Caption)
		}
		if p.Tags != "" {
			fmt.Printf("     Tags: %s\n", p.Tags)
		}
	}
}

func runSearch(query string) {
	idx := openIndex()
	defer idx.Close()

	results, err := idx.Search(query, 10)
	if err != nil {
		log.Error.Fatalf("Error searching: %v", err)
	}

	if len(results) == 0 {
		fmt.Println("No results found")
		return
	}

	fmt.Printf("\nFound %d results:\n\n", len(results))

	for i, result := range results {
		fmt.Printf("%d. #%d %s\n", i+1, result.PostID, result.Caption)
		if result.Tags != "" {
			fmt.Printf("   Tags: %s\n", result.Tags)
		}
		fmt.Printf("   File: %s (%s)\n", result.Filename, result.MediaKind)
		fmt.Printf("   Score: %.3f\n", result.Score)
		fmt.Println()
	}
}

func runImport(dir string, allowVideo bool, concurrency int, opts importer.Options) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db := openDB()
	defer db.Close()

	files, closeFiles := openContent(ctx)
	defer closeFiles()

	idx := openIndex()
	defer idx.Close()

	svc := ingest.NewService(ingest.Config{
		AllowVideo:    allowVideo,
		MaxUploadSize: ingest.DefaultMaxUploadSize,
	}, db, files, ingest.WithIndexer(idx))

	stats, err := importer.NewWorker(svc, concurrency).Import(ctx, dir, opts)
	if err != nil {
		log.Error.Fatalf("Error importing: %v", err)
	}

	fmt.Println()
	fmt.Println("=== Import Complete ===")
	fmt.Printf("Files:     %d\n", stats.TotalFiles)
	fmt.Printf("Imported:  %d\n", stats.Imported)
	fmt.Printf("Skipped:   %d\n", stats.Skipped)
	fmt.Printf("Errors:    %d\n", stats.Errors)
	fmt.Printf("Duration:  %v\n", stats.Duration.Round(time.Millisecond))
}

func runReindex() {
	fmt.Println("Rebuilding keyword search index...")
	fmt.Println()

	db := openDB()
	defer db.Close()

	startTime := time.Now()

	// Start from an empty index so posts never linger from an older mapping
	if err := os.RemoveAll(indexPath); err != nil {
		log.Error.Fatalf("Error removing old index: %v", err)
	}
	idx := openIndex()
	defer idx.Close()

	progressFn := func(current, total int) {
		percent := float64(current) / float64(total) * 100
		fmt.Printf("\rIndexing: %d/%d (%.1f%%)  ", current, total, percent)
	}

	if err := idx.Rebuild(context.Background(), db, progressFn); err != nil {
		log.Error.Fatalf("\nError rebuilding index: %v", err)
	}

	indexCount, err := idx.Count()
	if err != nil {
		log.Error.Fatalf("\nError getting index count: %v", err)
	}

	fmt.Println()
	fmt.Println()
	fmt.Println("=== Reindex Complete ===")
	fmt.Printf("Posts indexed: %d\n", indexCount)
	fmt.Printf("Duration:      %v\n", time.Since(startTime).Round(time.Millisecond))
}

func runStats() {
	db := openDB()
	defer db.Close()

	idx := openIndex()
	defer idx.Close()

	dbCount, err := db.Count(context.Background())
	if err != nil {
		log.Error.Fatalf("Error getting database count: %v", err)
	}

	indexCount, err := idx.Count()
	if err != nil {
		log.Error.Fatalf("Error getting index count: %v", err)
	}

	fmt.Println("=== Archive Statistics ===")
	fmt.Printf("Posts in database: %d\n", dbCount)
	fmt.Printf("Posts in index:    %d\n", indexCount)
}

func runGetPost(idStr string) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		fmt.Printf("Invalid post ID: %s\n", idStr)
		os.Exit(1)
	}

	db := openDB()
	defer db.Close()

	p, err := db.Get(context.Background(), id)
	if err != nil {
		log.Error.Fatalf("Error retrieving post: %v", err)
	}

	if p == nil {
		fmt.Printf("Post not found: %d\n", id)
		os.Exit(1)
	}

	fmt.Printf("ID:       %d\n", p.ID)
	fmt.Printf("File:     %s\n", p.Filename)
	fmt.Printf("Kind:     %s\n", p.MediaKind)
	fmt.Printf("Caption:  %s\n", p.Caption)
	fmt.Printf("Tags:     %s\n", p.Tags)
	fmt.Printf("Created:  %s\n", p.CreatedAt.Format(time.RFC3339))
}

// initTracing installs an OTLP tracer provider when an endpoint is configured
func initTracing(ctx context.Context) func(context.Context) error {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return func(context.Context) error { return nil }
	}

	exp, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(strings.TrimPrefix(endpoint, "http://")),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		log.Error.Fatalf("otel exporter: %v", err)
	}
	res, err := newResource(ctx)
	if err != nil {
		log.Warn.Printf("otel resource: %v", err)
	}
	tp := trace.NewTracerProvider(trace.WithBatcher(exp), trace.WithResource(res))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	log.Info.Printf("Exporting traces to %s", endpoint)
	return tp.Shutdown
}

// newResource describes this process to the trace backend. Attributes carry no
// schema URL so they merge with the SDK's own without conflict.
func newResource(ctx context.Context) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(envOr("OTEL_SERVICE_NAME", "kirk-archive")),
			attribute.String("deployment.environment", envOr("ENV", "local")),
		),
	)
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
