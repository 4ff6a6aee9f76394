package server

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/esimov/visage"
	"github.com/esimov/visage/remover"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// sample returns the bytes of a portrait photograph holding one face.
func sample(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "testdata", "sample.jpg"))
	require.NoError(t, err)
	return data
}

func upload(t *testing.T, path string, data []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("image", "sample.jpg")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newServer(t *testing.T, withRemover bool) *Server {
	t.Helper()
	opts := visage.DefaultOptions()
	opts.Estimator = visage.StaticEstimator{Result: visage.AttributeEstimate{Age: 30, Emotion: visage.Neutral}}
	if withRemover {
		opts.Remover = visage.NewSessionCache(remover.NewLumaKey(), nil)
	}
	p, err := visage.NewPipeline(opts)
	require.NoError(t, err)
	return New(p, Config{CORSOrigins: []string{"*"}}, nil)
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	rec := serve(newServer(t, false), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_Analyze(t *testing.T) {
	assert := assert.New(t)

	rec := serve(newServer(t, true), upload(t, "/api/v1/analyze", sample(t)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out analyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(1, out.FaceCount)
	require.Len(t, out.Faces, 1)
	assert.Equal("30 yrs (Neutral)", out.Faces[0].Label)
	assert.Equal(visage.Neutral, out.Faces[0].Emotion)
	assert.Empty(out.Notes)
	assert.NotEmpty(out.Annotated)
	require.NotNil(t, out.Foreground)
	assert.NotEmpty(*out.Foreground)
}

func TestServer_AnalyzeWithoutRemover(t *testing.T) {
	assert := assert.New(t)

	rec := serve(newServer(t, false), upload(t, "/api/v1/analyze", sample(t)))
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Nil(out["foreground"])
	assert.Len(out["notes"], 1)
}

func TestServer_Annotate(t *testing.T) {
	rec := serve(newServer(t, false), upload(t, "/api/v1/annotate", sample(t)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(320, 400), img.Bounds().Size())
}

func TestServer_Foreground(t *testing.T) {
	rec := serve(newServer(t, true), upload(t, "/api/v1/foreground", sample(t)))
	require.Equal(t, http.StatusOK, rec.Code)
	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(320, 400), img.Bounds().Size())

	rec = serve(newServer(t, false), upload(t, "/api/v1/foreground", sample(t)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_InvalidImage(t *testing.T) {
	assert := assert.New(t)
	s := newServer(t, false)

	rec := serve(s, upload(t, "/api/v1/analyze", []byte("definitely not an image")))
	assert.Equal(http.StatusBadRequest, rec.Code)
	assert.Contains(rec.Body.String(), "invalid image")

	rec = serve(s, upload(t, "/api/v1/annotate", pngBytes(t, image.NewNRGBA(image.Rect(0, 0, 2, 2)))))
	assert.Equal(http.StatusBadRequest, rec.Code)

	rec = serve(s, httptest.NewRequest(http.MethodPost, "/api/v1/analyze", nil))
	assert.Equal(http.StatusBadRequest, rec.Code)
}
