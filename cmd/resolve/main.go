// Command resolve runs the location resolution stage offline: it reads one
// message per line and prints the decoded country hints and resolved
// locations as JSON lines. Nothing is persisted.
//
// Usage:
//
//	MAPBOX_TOKEN=pk... go run ./cmd/resolve -model models/ner < messages.txt
//	MAPBOX_TOKEN=pk... go run ./cmd/resolve -model-name KnightsAnalytics/distilbert-NER -in messages.txt
//	go run ./cmd/resolve -flags-only -in messages.txt
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/couchcryptid/intelmap-ingest/internal/adapter/mapbox"
	"github.com/couchcryptid/intelmap-ingest/internal/adapter/ner"
	"github.com/couchcryptid/intelmap-ingest/internal/domain"
	"github.com/couchcryptid/intelmap-ingest/internal/observability"
)

type result struct {
	Text      string                  `json:"text"`
	Hints     []domain.CountryHint    `json:"hints"`
	Locations []domain.LocationRecord `json:"locations"`
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

type options struct {
	in        string
	modelPath string
	modelName string
	flagsOnly bool
	baseDelay time.Duration
}

func parseOptions(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	fs.StringVar(&opts.in, "in", "", "input file with one message per line (default stdin)")
	fs.StringVar(&opts.modelPath, "model", "models/ner", "path to the ONNX NER model directory")
	fs.StringVar(&opts.modelName, "model-name", "KnightsAnalytics/distilbert-NER",
		"Hugging Face model downloaded into -model when it is missing (empty disables download)")
	fs.BoolVar(&opts.flagsOnly, "flags-only", false, "only decode flag emoji, skip NER and geocoding")
	fs.DurationVar(&opts.baseDelay, "base-delay", time.Second, "geocode backoff base delay")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

func run() error {
	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		return err
	}

	var src io.Reader = os.Stdin
	if opts.in != "" {
		f, err := os.Open(opts.in)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		src = f
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	var coordinator *domain.Coordinator
	if !opts.flagsOnly {
		token := os.Getenv("MAPBOX_TOKEN")
		if token == "" {
			return fmt.Errorf("MAPBOX_TOKEN must be set unless -flags-only is given")
		}
		extractor, err := newExtractor(opts, logger)
		if err != nil {
			return err
		}
		defer extractor.Close() //nolint:errcheck // process is exiting

		metrics := observability.NewMetricsForTesting()
		geocoder := mapbox.NewCachedGeocoder(mapbox.NewClient(token, 10*time.Second, metrics, logger), 1000, metrics)
		cfg := domain.DefaultResolverConfig()
		cfg.BaseDelay = opts.baseDelay
		coordinator = domain.NewCoordinator(extractor, domain.NewResolver(geocoder, cfg, logger), logger)
	}

	return resolveLines(ctx, src, os.Stdout, coordinator)
}

// newExtractor fetches the NER model on first use, then loads it.
func newExtractor(opts options, logger *slog.Logger) (*ner.Extractor, error) {
	modelPath, err := ner.PrepareModel(opts.modelName, opts.modelPath)
	if err != nil {
		return nil, err
	}
	return ner.NewExtractor(modelPath, logger)
}

// resolveLines writes one JSON result per non-blank input line. A nil
// coordinator decodes hints only.
func resolveLines(ctx context.Context, r io.Reader, w io.Writer, coordinator *domain.Coordinator) error {
	enc := json.NewEncoder(w)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		out := result{Text: text, Hints: domain.DecodeFlags(text), Locations: []domain.LocationRecord{}}
		if coordinator != nil {
			for _, loc := range coordinator.ResolveAll(ctx, text) {
				out.Locations = append(out.Locations, domain.NewLocationRecord(loc))
			}
		}
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
	}
	return scanner.Err()
}
