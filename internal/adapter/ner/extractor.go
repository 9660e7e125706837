// Package ner extracts named entities with an ONNX token-classification
// model run through hugot's pure Go backend.
package ner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"

	"github.com/couchcryptid/intelmap-ingest/internal/domain"
)

// Extractor implements domain.EntityExtractor over a hugot NER pipeline.
type Extractor struct {
	mu       sync.Mutex
	session  *hugot.Session
	pipeline *pipelines.TokenClassificationPipeline
	logger   *slog.Logger
}

// NewExtractor loads the NER model at modelPath.
func NewExtractor(modelPath string, logger *slog.Logger) (*Extractor, error) {
	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("create hugot session: %w", err)
	}

	config := hugot.TokenClassificationConfig{
		ModelPath: modelPath,
		Name:      "place-ner",
		Options: []hugot.TokenClassificationOption{
			pipelines.WithSimpleAggregation(),
			pipelines.WithIgnoreLabels([]string{"O"}),
		},
	}
	nerPipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("create NER pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("create NER pipeline: %w", err)
	}

	logger.Info("NER model loaded", "path", modelPath)
	return &Extractor{session: session, pipeline: nerPipeline, logger: logger}, nil
}

// Extract runs the model over text and returns entities in text order.
func (e *Extractor) Extract(ctx context.Context, text string) ([]domain.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	result, err := e.pipeline.RunPipeline([]string{text})
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("run NER: %w", err)
	}
	if len(result.Entities) == 0 {
		return nil, nil
	}
	return toEntities(result.Entities[0]), nil
}

// Close releases the model session.
func (e *Extractor) Close() error {
	return e.session.Destroy()
}

func toEntities(in []pipelines.Entity) []domain.Entity {
	out := make([]domain.Entity, 0, len(in))
	for _, ent := range in {
		word := strings.TrimSpace(ent.Word)
		if word == "" {
			continue
		}
		out = append(out, domain.Entity{Text: word, Label: domain.NormalizeLabel(ent.Entity)})
	}
	return out
}

// PrepareModel downloads modelName from the Hugging Face hub into the parent
// of modelPath when modelPath does not exist yet, and returns the usable path.
func PrepareModel(modelName, modelPath string) (string, error) {
	if _, err := os.Stat(modelPath); err == nil {
		return modelPath, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("stat model: %w", err)
	}
	if modelName == "" {
		return "", fmt.Errorf("model %s not found and no model name to download", modelPath)
	}

	modelDir := filepath.Dir(modelPath)
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return "", fmt.Errorf("create model directory: %w", err)
	}
	opts := hugot.NewDownloadOptions()
	opts.OnnxFilePath = "model.onnx"
	downloaded, err := hugot.DownloadModel(modelName, modelDir, opts)
	if err != nil {
		return "", fmt.Errorf("download model: %w", err)
	}
	return downloaded, nil
}
