// Package server exposes the visage pipeline over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	"github.com/disintegration/imaging"
	"github.com/esimov/visage"
	"github.com/esimov/visage/utils"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Config holds the HTTP settings.
type Config struct {
	Addr        string
	CORSOrigins []string
	// MaxUploadBytes bounds the request body size.
	MaxUploadBytes int64
}

// Server serves the analysis endpoints. Every request runs through the
// same pipeline, and so shares its background remover session.
type Server struct {
	cfg      Config
	pipeline *visage.Pipeline
	log      logrus.FieldLogger
	engine   *gin.Engine
}

type faceResponse struct {
	X       int            `json:"x"`
	Y       int            `json:"y"`
	Width   int            `json:"width"`
	Height  int            `json:"height"`
	Age     int            `json:"age"`
	Emotion visage.Emotion `json:"emotion"`
	Label   string         `json:"label"`
}

type analyzeResponse struct {
	FaceCount  int            `json:"face_count"`
	Faces      []faceResponse `json:"faces"`
	Notes      []string       `json:"notes"`
	Annotated  string         `json:"annotated"`
	Foreground *string        `json:"foreground"`
	DurationMS int64          `json:"duration_ms"`
}

// New returns a server running p.
func New(p *visage.Pipeline, cfg Config, log logrus.FieldLogger) *Server {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 << 20
	}
	s := &Server{
		cfg:      cfg,
		pipeline: p,
		log:      log.WithField("component", "server"),
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests, cors.New(corsConfig(cfg.CORSOrigins)))
	r.MaxMultipartMemory = cfg.MaxUploadBytes

	r.GET("/healthz", s.health)
	api := r.Group("/api/v1")
	api.POST("/analyze", s.analyze)
	api.POST("/annotate", s.annotate)
	api.POST("/foreground", s.foreground)

	s.engine = r
	return s
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	if len(origins) == 0 || utils.Contains(origins, "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	c.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	return c
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.cfg.Addr).Info("listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.log.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.log.WithFields(logrus.Fields{
		"method":  c.Request.Method,
		"path":    c.Request.URL.Path,
		"status":  c.Writer.Status(),
		"latency": time.Since(start),
	}).Info("request")
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// run decodes the uploaded "image" field and runs the pipeline. On failure
// the error response is written and nil returned.
func (s *Server) run(c *gin.Context) *visage.Result {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)
	fh, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("missing image upload: %v", err)})
		return nil
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil
	}
	defer f.Close()

	img, err := visage.DecodeImage(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil
	}

	res, err := s.pipeline.Run(c.Request.Context(), img)
	switch {
	case err == nil:
		return res
	case errors.Is(err, visage.ErrInvalidImage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusRequestTimeout, gin.H{"error": err.Error()})
	default:
		s.log.WithError(err).Error("analysis failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
	return nil
}

func (s *Server) analyze(c *gin.Context) {
	res := s.run(c)
	if res == nil {
		return
	}

	annotated, err := encodePNG(res.Annotated)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := analyzeResponse{
		FaceCount:  res.FaceCount,
		Faces:      make([]faceResponse, len(res.Faces)),
		Notes:      make([]string, len(res.Notes)),
		Annotated:  base64.StdEncoding.EncodeToString(annotated),
		DurationMS: res.Duration.Milliseconds(),
	}
	for i, f := range res.Faces {
		out.Faces[i] = faceResponse{
			X:       f.Region.X,
			Y:       f.Region.Y,
			Width:   f.Region.Width,
			Height:  f.Region.Height,
			Age:     f.Estimate.Age,
			Emotion: f.Estimate.Emotion,
			Label:   f.Estimate.Label(),
		}
	}
	for i, n := range res.Notes {
		out.Notes[i] = n.String()
	}
	if res.Foreground != nil {
		fg, err := encodePNG(res.Foreground)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		enc := base64.StdEncoding.EncodeToString(fg)
		out.Foreground = &enc
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) annotate(c *gin.Context) {
	res := s.run(c)
	if res == nil {
		return
	}
	s.writePNG(c, res.Annotated)
}

func (s *Server) foreground(c *gin.Context) {
	res := s.run(c)
	if res == nil {
		return
	}
	if res.Foreground == nil {
		notes := make([]string, len(res.Notes))
		for i, n := range res.Notes {
			notes[i] = n.String()
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "background removal unavailable", "notes": notes})
		return
	}
	s.writePNG(c, res.Foreground)
}

func (s *Server) writePNG(c *gin.Context, img image.Image) {
	data, err := encodePNG(img)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "image/png", data)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := visage.EncodeImage(&buf, img, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
