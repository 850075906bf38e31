package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/model-serve/internal/artifacts"
	"github.com/yourorg/model-serve/internal/inference"
	"github.com/yourorg/model-serve/internal/types"
)

type stubPredictor struct {
	err      error
	lastName string
	lastIn   []string
}

func (s *stubPredictor) PredictText(ctx context.Context, name string, texts []string) (inference.Output, error) {
	s.lastName, s.lastIn = name, texts
	if s.err != nil {
		return inference.Output{}, s.err
	}
	out := inference.Output{Model: "tinybert-" + name, Elapsed: 0.01}
	for range texts {
		out.Labels = append(out.Labels, "POSITIVE")
		out.Scores = append(out.Scores, 0.95)
	}
	return out, nil
}

func (s *stubPredictor) PredictImage(ctx context.Context, name string, urls []string) (inference.Output, error) {
	s.lastName, s.lastIn = name, urls
	out := inference.Output{Model: "vit-human-pose-classification", Elapsed: 0.02}
	for range urls {
		out.Labels = append(out.Labels, "standing")
		out.Scores = append(out.Scores, 0.8)
	}
	return out, nil
}

type stubIssuer struct {
	bucket, object string
	existed        bool
}

func (s *stubIssuer) Issue(ctx context.Context, localPath, bucket, objectName string) (string, error) {
	_, err := os.Stat(localPath)
	s.existed = err == nil
	s.bucket, s.object = bucket, objectName
	return "https://uploads.example/" + objectName + "?sig=1", nil
}

type stubHistory []artifacts.Result

func (s stubHistory) List() ([]artifacts.Result, error) { return s, nil }

func newTestRouter(p Predictor, iss URLIssuer, hist SyncHistory) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(NewHandler(p, iss, "uploads", hist, nil), nil)
}

func postJSON(t *testing.T, r http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHome(t *testing.T) {
	r := newTestRouter(&stubPredictor{}, nil, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `"Server is running ..."`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestSentimentAnalysis(t *testing.T) {
	p := &stubPredictor{}
	r := newTestRouter(p, nil, nil)

	w := postJSON(t, r, "/api/v1/sentiment_analysis", `{"text":["good movie"],"user_id":"a@b.com"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out types.NLPDataOutput
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "tinybert-sentiment", out.Model)
	assert.Equal(t, []string{"good movie"}, out.Text)
	assert.Equal(t, []string{"POSITIVE"}, out.Target)
	assert.Equal(t, []float64{0.95}, out.Score)
	assert.GreaterOrEqual(t, out.PredictionTime, 0.0)
	assert.Equal(t, "sentiment", p.lastName)
}

func TestDisasterClassifierRoutesToDisasterModel(t *testing.T) {
	p := &stubPredictor{}
	r := newTestRouter(p, nil, nil)

	w := postJSON(t, r, "/api/v1/disater_classifier", `{"text":["fire","calm"],"user_id":"a@b.com"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "disaster", p.lastName)
	assert.Equal(t, []string{"fire", "calm"}, p.lastIn)
}

func TestTextValidation(t *testing.T) {
	r := newTestRouter(&stubPredictor{}, nil, nil)
	for name, body := range map[string]string{
		"missing user":  `{"text":["x"]}`,
		"bad email":     `{"text":["x"],"user_id":"not-an-email"}`,
		"missing text":  `{"user_id":"a@b.com"}`,
		"malformed":     `{"text":`,
		"wrong payload": `{"text":"x","user_id":"a@b.com"}`,
	} {
		t.Run(name, func(t *testing.T) {
			w := postJSON(t, r, "/api/v1/sentiment_analysis", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestEmptyInputListsAreAccepted(t *testing.T) {
	p := &stubPredictor{}
	r := newTestRouter(p, nil, nil)

	w := postJSON(t, r, "/api/v1/sentiment_analysis", `{"text":[],"user_id":"a@b.com"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, p.lastIn)

	w = postJSON(t, r, "/api/v1/sentiment_analysis", `{"text":["", "ok"],"user_id":"a@b.com"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"", "ok"}, p.lastIn)

	w = postJSON(t, r, "/api/v1/pose_classifier", `{"url":[],"user_id":"a@b.com"}`)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestEngineFailureIs500(t *testing.T) {
	r := newTestRouter(&stubPredictor{err: errors.New("runtime down")}, nil, nil)
	w := postJSON(t, r, "/api/v1/sentiment_analysis", `{"text":["x"],"user_id":"a@b.com"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "runtime down")
}

func TestPoseClassifier(t *testing.T) {
	r := newTestRouter(&stubPredictor{}, nil, nil)
	w := postJSON(t, r, "/api/v1/pose_classifier", `{"url":["http://example/img.jpg"],"user_id":"a@b.com"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var out types.ImageDataOutput
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, []string{"http://example/img.jpg"}, out.URL)
	assert.Equal(t, []string{"standing"}, out.Target)
	assert.Equal(t, []float64{0.8}, out.Score)
}

func TestPoseClassifierUpload(t *testing.T) {
	iss := &stubIssuer{}
	p := &stubPredictor{}
	r := newTestRouter(p, iss, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("user_id", "a@b.com"))
	fw, err := mw.CreateFormFile("file", "me.JPG")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("\xff\xd8\xff"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/pose_classifier/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.True(t, iss.existed)
	assert.Equal(t, "uploads", iss.bucket)
	assert.True(t, strings.HasPrefix(iss.object, "uploads/"))
	assert.True(t, strings.HasSuffix(iss.object, ".jpg"))
	require.Len(t, p.lastIn, 1)
	assert.Contains(t, p.lastIn[0], iss.object)
}

func TestPoseClassifierUploadRejectsNonImage(t *testing.T) {
	r := newTestRouter(&stubPredictor{}, &stubIssuer{}, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("user_id", "a@b.com")
	fw, _ := mw.CreateFormFile("file", "notes.txt")
	_, _ = fw.Write([]byte("hello"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/pose_classifier/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadRouteDisabledWithoutIssuer(t *testing.T) {
	r := newTestRouter(&stubPredictor{}, nil, nil)
	w := postJSON(t, r, "/api/v1/pose_classifier/upload", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestArtifacts(t *testing.T) {
	hist := stubHistory{{Descriptor: artifacts.Descriptor{Name: "pose"}, Downloaded: true, Objects: 3}}
	r := newTestRouter(&stubPredictor{}, nil, hist)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/artifacts", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var got []artifacts.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "pose", got[0].Name)
	assert.Equal(t, 3, got[0].Objects)
}
