package types

import "github.com/yourorg/model-serve/internal/artifacts"

// NLPDataInput is the request body for the text classifiers.
type NLPDataInput struct {
	Text   []string `json:"text" binding:"required"`
	UserID string   `json:"user_id" binding:"required,email"`
}

type NLPDataOutput struct {
	Model          string    `json:"model"`
	Text           []string  `json:"text"`
	Target         []string  `json:"target"`
	Score          []float64 `json:"score"`
	PredictionTime float64   `json:"prediction_time"`
}

// ImageDataInput is the request body for the image classifier.
type ImageDataInput struct {
	URL    []string `json:"url" binding:"required"`
	UserID string   `json:"user_id" binding:"required,email"`
}

type ImageDataOutput struct {
	Model          string    `json:"model"`
	URL            []string  `json:"url"`
	Target         []string  `json:"target"`
	Score          []float64 `json:"score"`
	PredictionTime float64   `json:"prediction_time"`
}

// ImageUploadInput accompanies a multipart image upload.
type ImageUploadInput struct {
	UserID string `form:"user_id" binding:"required,email"`
}

// SyncParams is the input of the model sync workflow.
type SyncParams struct {
	Bucket      string                 `json:"bucket"`
	Descriptors []artifacts.Descriptor `json:"descriptors"`
	Force       bool                   `json:"force"`
}

// ArtifactParams is the input of one sync activity.
type ArtifactParams struct {
	Bucket     string               `json:"bucket"`
	Descriptor artifacts.Descriptor `json:"descriptor"`
	Force      bool                 `json:"force"`
}

type SyncResult struct {
	Results []artifacts.Result `json:"results"`
}
