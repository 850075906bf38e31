package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourorg/model-serve/internal/artifacts"
	"github.com/yourorg/model-serve/internal/config"
	"github.com/yourorg/model-serve/internal/inference"
	"github.com/yourorg/model-serve/internal/types"
)

// Predictor is the serving side of inference.Service.
type Predictor interface {
	PredictText(ctx context.Context, name string, texts []string) (inference.Output, error)
	PredictImage(ctx context.Context, name string, urls []string) (inference.Output, error)
}

// URLIssuer turns an uploaded file into a fetchable URL.
type URLIssuer interface {
	Issue(ctx context.Context, localPath, bucket, objectName string) (string, error)
}

// SyncHistory lists recorded artifact syncs.
type SyncHistory interface {
	List() ([]artifacts.Result, error)
}

type Handler struct {
	predictor    Predictor
	issuer       URLIssuer
	uploadBucket string
	history      SyncHistory
	log          *zap.Logger
}

// NewHandler wires the HTTP handlers. issuer and history may be nil, which
// disables the upload and artifact listing routes respectively.
func NewHandler(p Predictor, issuer URLIssuer, uploadBucket string, history SyncHistory, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{predictor: p, issuer: issuer, uploadBucket: uploadBucket, history: history, log: log}
}

func (h *Handler) Home(c *gin.Context) {
	c.JSON(http.StatusOK, "Server is running ...")
}

func (h *Handler) SentimentAnalysis(c *gin.Context) { h.classifyText(c, config.ModelSentiment) }

func (h *Handler) DisasterClassifier(c *gin.Context) { h.classifyText(c, config.ModelDisaster) }

func (h *Handler) classifyText(c *gin.Context, model string) {
	var req types.NLPDataInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := h.predictor.PredictText(c.Request.Context(), model, req.Text)
	if err != nil {
		h.fail(c, model, err)
		return
	}
	c.JSON(http.StatusOK, types.NLPDataOutput{
		Model:          out.Model,
		Text:           req.Text,
		Target:         out.Labels,
		Score:          out.Scores,
		PredictionTime: out.Elapsed,
	})
}

func (h *Handler) PoseClassifier(c *gin.Context) {
	var req types.ImageDataInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.classifyImage(c, req.URL)
}

// PoseClassifierUpload accepts a multipart image, publishes it under a
// presigned URL and classifies it from there.
func (h *Handler) PoseClassifierUpload(c *gin.Context) {
	var req types.ImageUploadInput
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file upload error: " + err.Error()})
		return
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp", ".bmp":
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported image type"})
		return
	}

	tmp, err := os.MkdirTemp("", "pose-upload-")
	if err != nil {
		h.fail(c, config.ModelPose, err)
		return
	}
	defer os.RemoveAll(tmp)
	local := filepath.Join(tmp, "image"+ext)
	if err := c.SaveUploadedFile(header, local); err != nil {
		h.fail(c, config.ModelPose, err)
		return
	}

	objectName := "uploads/" + uuid.NewString() + ext
	url, err := h.issuer.Issue(c.Request.Context(), local, h.uploadBucket, objectName)
	if err != nil {
		h.fail(c, config.ModelPose, err)
		return
	}
	h.classifyImage(c, []string{url})
}

func (h *Handler) classifyImage(c *gin.Context, urls []string) {
	out, err := h.predictor.PredictImage(c.Request.Context(), config.ModelPose, urls)
	if err != nil {
		h.fail(c, config.ModelPose, err)
		return
	}
	c.JSON(http.StatusOK, types.ImageDataOutput{
		Model:          out.Model,
		URL:            urls,
		Target:         out.Labels,
		Score:          out.Scores,
		PredictionTime: out.Elapsed,
	})
}

// Artifacts lists the last recorded sync per artifact.
func (h *Handler) Artifacts(c *gin.Context) {
	records, err := h.history.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = []artifacts.Result{}
	}
	c.JSON(http.StatusOK, records)
}

func (h *Handler) fail(c *gin.Context, model string, err error) {
	h.log.Error("prediction failed", zap.String("model", model), zap.String("request_id", c.GetString(requestIDKey)), zap.Error(err))
	status := http.StatusInternalServerError
	if errors.Is(err, inference.ErrUnknownModel) {
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
