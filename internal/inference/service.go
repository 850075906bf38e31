// Package inference binds classification engines to materialized artifacts
// and times their batched predictions.
package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/model-serve/internal/metrics"
)

var (
	// ErrUnknownModel is returned for a model name with no bound engine.
	ErrUnknownModel = errors.New("unknown model")
	// ErrMisaligned is returned when an engine's output does not line up with its input.
	ErrMisaligned = errors.New("engine output not aligned with input")
)

type Prediction struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// TextClassifier returns one prediction per input text.
type TextClassifier interface {
	Classify(ctx context.Context, texts []string) ([]Prediction, error)
}

// ImageClassifier returns a ranked prediction list per input image URL.
type ImageClassifier interface {
	Classify(ctx context.Context, urls []string) ([][]Prediction, error)
}

// Output is positionally aligned with the request inputs.
type Output struct {
	Model  string
	Labels []string
	Scores []float64
	// Elapsed is the wall-clock seconds of the single batched engine call.
	Elapsed float64
}

type textBinding struct {
	model  string
	engine TextClassifier
}

type imageBinding struct {
	model  string
	engine ImageClassifier
}

// Service holds the engines bound at startup. Binding is not safe for
// concurrent use; prediction is, provided the engines are.
type Service struct {
	text  map[string]textBinding
	image map[string]imageBinding
	log   *zap.Logger
}

func NewService(log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		text:  make(map[string]textBinding),
		image: make(map[string]imageBinding),
		log:   log.Named("inference"),
	}
}

// BindText registers e under name; model is the name reported in outputs.
func (s *Service) BindText(name, model string, e TextClassifier) {
	s.text[name] = textBinding{model: model, engine: e}
	s.log.Info("bound text engine", zap.String("name", name), zap.String("model", model))
}

func (s *Service) BindImage(name, model string, e ImageClassifier) {
	s.image[name] = imageBinding{model: model, engine: e}
	s.log.Info("bound image engine", zap.String("name", name), zap.String("model", model))
}

func (s *Service) PredictText(ctx context.Context, name string, texts []string) (Output, error) {
	b, ok := s.text[name]
	if !ok {
		return Output{}, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	start := time.Now()
	preds, err := b.engine.Classify(ctx, texts)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		return Output{}, fmt.Errorf("classify with %s: %w", name, err)
	}
	if len(preds) != len(texts) {
		return Output{}, fmt.Errorf("%s: %w: %d inputs, %d predictions", name, ErrMisaligned, len(texts), len(preds))
	}
	out := Output{Model: b.model, Labels: make([]string, len(preds)), Scores: make([]float64, len(preds)), Elapsed: elapsed}
	for i, p := range preds {
		out.Labels[i] = p.Label
		out.Scores[i] = p.Score
	}
	observe(name, len(texts), elapsed)
	return out, nil
}

// PredictImage surfaces only the top-ranked prediction for each URL.
func (s *Service) PredictImage(ctx context.Context, name string, urls []string) (Output, error) {
	b, ok := s.image[name]
	if !ok {
		return Output{}, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	start := time.Now()
	ranked, err := b.engine.Classify(ctx, urls)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		return Output{}, fmt.Errorf("classify with %s: %w", name, err)
	}
	if len(ranked) != len(urls) {
		return Output{}, fmt.Errorf("%s: %w: %d inputs, %d predictions", name, ErrMisaligned, len(urls), len(ranked))
	}
	out := Output{Model: b.model, Labels: make([]string, len(ranked)), Scores: make([]float64, len(ranked)), Elapsed: elapsed}
	for i, preds := range ranked {
		if len(preds) == 0 {
			return Output{}, fmt.Errorf("%s: %w: no predictions for input %d", name, ErrMisaligned, i)
		}
		out.Labels[i] = preds[0].Label
		out.Scores[i] = preds[0].Score
	}
	observe(name, len(urls), elapsed)
	return out, nil
}

func observe(model string, n int, elapsed float64) {
	metrics.Predictions.WithLabelValues(model).Add(float64(n))
	metrics.PredictionSeconds.WithLabelValues(model).Observe(elapsed)
}
