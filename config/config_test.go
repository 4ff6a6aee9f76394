package config

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/esimov/visage"
	"github.com/esimov/visage/cascade"
	"github.com/esimov/visage/remover"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	assert := assert.New(t)

	cfg := Default()
	assert.Equal("pigo", cfg.Detector.Engine)
	assert.Equal(1.1, cfg.Detector.ScaleFactor)
	assert.Equal(5, cfg.Detector.MinNeighbors)
	assert.Equal(Size{Width: 30, Height: 30}, cfg.Detector.MinFaceSize)
	assert.True(cfg.BackgroundRemoval.Enabled)
	assert.Equal("rembg", cfg.BackgroundRemoval.Backend)
	assert.Equal(30*time.Second, cfg.Estimator.Timeout)
	assert.Equal([]string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(int64(20), cfg.Server.MaxUploadMB)

	style, err := cfg.Style()
	require.NoError(t, err)
	assert.Equal(visage.DefaultStyle().BoxColor, style.BoxColor)
	assert.Equal(2, style.LineThickness)
	assert.Equal(0.7, style.FontScale)

	p := cfg.Params()
	assert.Equal(image.Pt(30, 30), p.MinSize)
	assert.Equal(image.Point{}, p.MaxSize)
}

func TestConfig_EnvOverride(t *testing.T) {
	assert := assert.New(t)

	t.Setenv("VISAGE_DETECTOR_MIN_NEIGHBORS", "3")
	t.Setenv("VISAGE_BACKGROUND_REMOVAL_BACKEND", "lumakey")
	t.Setenv("VISAGE_ESTIMATOR_TIMEOUT", "5s")

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(3, cfg.Detector.MinNeighbors)
	assert.Equal("lumakey", cfg.BackgroundRemoval.Backend)
	assert.Equal(5*time.Second, cfg.Estimator.Timeout)
	assert.IsType(&remover.LumaKey{}, cfg.Remover())
}

func TestConfig_File(t *testing.T) {
	assert := assert.New(t)

	path := filepath.Join(t.TempDir(), "visage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
detector:
  min_face_size:
    width: 48
    height: 48
annotation:
  color: "#00ff00"
  label_color: "#fff"
background_removal:
  enabled: false
`), 0o644))

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(Size{Width: 48, Height: 48}, cfg.Detector.MinFaceSize)
	assert.Equal(5, cfg.Detector.MinNeighbors)

	style, err := cfg.Style()
	require.NoError(t, err)
	assert.Equal(color.NRGBA{G: 255, A: 255}, style.BoxColor)
	assert.Equal(color.NRGBA{R: 255, G: 255, B: 255, A: 255}, style.LabelColor)

	opts, err := cfg.Options(nil)
	require.NoError(t, err)
	assert.False(opts.BackgroundRemovalEnabled)
	assert.Nil(opts.Remover)
	assert.Nil(opts.Engine)

	_, err = Load(New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(err)
}

func TestConfig_Invalid(t *testing.T) {
	for key, value := range map[string]string{
		"VISAGE_DETECTOR_ENGINE":            "dlib",
		"VISAGE_DETECTOR_SCALE_FACTOR":      "0.9",
		"VISAGE_ANNOTATION_COLOR":           "red",
		"VISAGE_ANNOTATION_LINE_THICKNESS":  "0",
		"VISAGE_BACKGROUND_REMOVAL_BACKEND": "photoshop",
		"VISAGE_ESTIMATOR_BACKEND":          "oracle",
		"VISAGE_PIPELINE_WORKERS":           "-2",
	} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load(New(), "")
			assert.Error(t, err)
		})
	}

	t.Run("haar cascade without cascade file", func(t *testing.T) {
		t.Setenv("VISAGE_DETECTOR_ENGINE", "cascade")
		_, err := Load(New(), "")
		assert.Error(t, err)
	})
}

func TestConfig_Engine(t *testing.T) {
	assert := assert.New(t)

	t.Setenv("VISAGE_DETECTOR_ENGINE", "cascade")
	t.Setenv("VISAGE_DETECTOR_CASCADE_FILE", filepath.Join("..", "cascade", "testdata", "schematic.xml"))
	cfg, err := Load(New(), "")
	require.NoError(t, err)
	engine, err := cfg.Engine()
	require.NoError(t, err)
	assert.IsType(&cascade.Cascade{}, engine)

	t.Setenv("VISAGE_DETECTOR_ENGINE", "pigo")
	t.Setenv("VISAGE_DETECTOR_CASCADE_FILE", filepath.Join(t.TempDir(), "facefinder"))
	cfg, err = Load(New(), "")
	require.NoError(t, err)
	_, err = cfg.Engine()
	assert.Error(err)
}

func TestConfig_Options(t *testing.T) {
	assert := assert.New(t)

	t.Setenv("VISAGE_ESTIMATOR_BACKEND", "deepface")
	t.Setenv("VISAGE_ESTIMATOR_URL", "http://deepface:5005")
	t.Setenv("VISAGE_BACKGROUND_REMOVAL_BACKEND", "rembg-http")

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	opts, err := cfg.Options(nil)
	require.NoError(t, err)

	assert.NotNil(opts.Remover)
	assert.True(opts.BackgroundRemovalEnabled)
	assert.NotNil(opts.Estimator)
	assert.IsType(&remover.HTTP{}, cfg.Remover())

	_, err = visage.NewPipeline(opts)
	assert.NoError(err)
}
