package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// Tasks understood by the inference runtime.
const (
	TaskText  = "text-classification"
	TaskImage = "image-classification"
)

// EngineSpec tells the runtime which local artifact to load and where to run it.
type EngineSpec struct {
	Task           string `json:"task"`
	ModelDir       string `json:"model_dir"`
	Device         string `json:"device"`
	ImageProcessor string `json:"image_processor,omitempty"`
}

type RemoteConfig struct {
	BaseURL  string
	Timeout  time.Duration
	RetryMax int
	Logger   *zap.Logger
}

// RemoteEngine posts batches to an inference runtime sidecar that shares the
// artifact directories with this process.
type RemoteEngine struct {
	client *retryablehttp.Client
	url    string
	spec   EngineSpec
}

func NewRemote(cfg RemoteConfig, spec EngineSpec) *RemoteEngine {
	c := retryablehttp.NewClient()
	c.RetryMax = cfg.RetryMax
	if cfg.Timeout > 0 {
		c.HTTPClient.Timeout = cfg.Timeout
	}
	if cfg.Logger != nil {
		c.Logger = leveled{cfg.Logger.Named("engine").Sugar()}
	} else {
		c.Logger = nil
	}
	return &RemoteEngine{
		client: c,
		url:    strings.TrimRight(cfg.BaseURL, "/") + "/v1/classify",
		spec:   spec,
	}
}

type classifyRequest struct {
	EngineSpec
	Inputs []string `json:"inputs"`
}

func (e *RemoteEngine) classify(ctx context.Context, inputs []string, out any) error {
	body, err := json.Marshal(classifyRequest{EngineSpec: e.spec, Inputs: inputs})
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("inference runtime: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("inference runtime: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// RemoteText is a TextClassifier backed by the runtime.
type RemoteText struct{ *RemoteEngine }

func (r RemoteText) Classify(ctx context.Context, texts []string) ([]Prediction, error) {
	var resp struct {
		Predictions []Prediction `json:"predictions"`
	}
	if err := r.classify(ctx, texts, &resp); err != nil {
		return nil, err
	}
	return resp.Predictions, nil
}

// RemoteImage is an ImageClassifier backed by the runtime.
type RemoteImage struct{ *RemoteEngine }

func (r RemoteImage) Classify(ctx context.Context, urls []string) ([][]Prediction, error) {
	var resp struct {
		Predictions [][]Prediction `json:"predictions"`
	}
	if err := r.classify(ctx, urls, &resp); err != nil {
		return nil, err
	}
	return resp.Predictions, nil
}

// leveled adapts zap to retryablehttp.LeveledLogger.
type leveled struct{ s *zap.SugaredLogger }

func (l leveled) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveled) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveled) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveled) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
