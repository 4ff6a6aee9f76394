// Package config loads the visage settings from defaults, an optional
// configuration file, VISAGE_* environment variables and command line
// flags, and builds the pipeline components they describe.
package config

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"strings"
	"time"

	"github.com/esimov/visage"
	"github.com/esimov/visage/cascade"
	"github.com/esimov/visage/estimator"
	"github.com/esimov/visage/remover"
	"github.com/esimov/visage/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variables overriding the settings,
// e.g. VISAGE_DETECTOR_MIN_NEIGHBORS.
const EnvPrefix = "VISAGE"

// Config is the complete visage configuration.
type Config struct {
	Detector          DetectorConfig   `mapstructure:"detector" yaml:"detector"`
	Annotation        AnnotationConfig `mapstructure:"annotation" yaml:"annotation"`
	BackgroundRemoval RemovalConfig    `mapstructure:"background_removal" yaml:"background_removal"`
	Estimator         EstimatorConfig  `mapstructure:"estimator" yaml:"estimator"`
	Pipeline          PipelineConfig   `mapstructure:"pipeline" yaml:"pipeline"`
	Log               LogConfig        `mapstructure:"log" yaml:"log"`
	Server            ServerConfig     `mapstructure:"server" yaml:"server"`
}

// Size is a width and height in pixels.
type Size struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// DetectorConfig selects the detection engine and its parameters.
type DetectorConfig struct {
	// Engine is one of pigo, cascade or opencv. CascadeFile may be left
	// empty for pigo, which then runs the embedded facefinder cascade.
	Engine       string  `mapstructure:"engine" yaml:"engine"`
	CascadeFile  string  `mapstructure:"cascade_file" yaml:"cascade_file"`
	ScaleFactor  float64 `mapstructure:"scale_factor" yaml:"scale_factor"`
	MinNeighbors int     `mapstructure:"min_neighbors" yaml:"min_neighbors"`
	MinFaceSize  Size    `mapstructure:"min_face_size" yaml:"min_face_size"`
	MaxFaceSize  Size    `mapstructure:"max_face_size" yaml:"max_face_size"`
}

// AnnotationConfig describes the drawing style. Colors are hex triplets.
type AnnotationConfig struct {
	Color         string  `mapstructure:"color" yaml:"color"`
	LabelColor    string  `mapstructure:"label_color" yaml:"label_color"`
	LineThickness int     `mapstructure:"line_thickness" yaml:"line_thickness"`
	FontScale     float64 `mapstructure:"font_scale" yaml:"font_scale"`
}

// RemovalConfig selects the background remover.
type RemovalConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Backend is one of rembg, rembg-http or lumakey.
	Backend string `mapstructure:"backend" yaml:"backend"`
	Model   string `mapstructure:"model" yaml:"model"`
	URL     string `mapstructure:"url" yaml:"url"`
	Binary  string `mapstructure:"binary" yaml:"binary"`
}

// EstimatorConfig selects the attribute estimator.
type EstimatorConfig struct {
	// Backend is one of placeholder or deepface.
	Backend string        `mapstructure:"backend" yaml:"backend"`
	URL     string        `mapstructure:"url" yaml:"url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type PipelineConfig struct {
	Workers int `mapstructure:"workers" yaml:"workers"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type ServerConfig struct {
	Addr        string   `mapstructure:"addr" yaml:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
	MaxUploadMB int64    `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`
}

// New returns a viper instance holding the defaults and reading the
// environment. Command line flags are bound to it before Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("detector.engine", "pigo")
	v.SetDefault("detector.cascade_file", "")
	v.SetDefault("detector.scale_factor", 1.1)
	v.SetDefault("detector.min_neighbors", 5)
	v.SetDefault("detector.min_face_size.width", 30)
	v.SetDefault("detector.min_face_size.height", 30)
	v.SetDefault("detector.max_face_size.width", 0)
	v.SetDefault("detector.max_face_size.height", 0)

	v.SetDefault("annotation.color", "#ff0000")
	v.SetDefault("annotation.label_color", "")
	v.SetDefault("annotation.line_thickness", 2)
	v.SetDefault("annotation.font_scale", 0.7)

	v.SetDefault("background_removal.enabled", true)
	v.SetDefault("background_removal.backend", "rembg")
	v.SetDefault("background_removal.model", remover.DefaultModel)
	v.SetDefault("background_removal.url", "http://localhost:7000")
	v.SetDefault("background_removal.binary", "rembg")

	v.SetDefault("estimator.backend", "placeholder")
	v.SetDefault("estimator.url", "http://localhost:5000")
	v.SetDefault("estimator.timeout", estimator.DefaultTimeout)

	v.SetDefault("pipeline.workers", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_upload_mb", 20)
}

// Load reads the configuration file at path, if any, on top of v and
// decodes the result. A missing file is reported as an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := Load(v, "")
	if err != nil {
		panic(err)
	}
	return cfg
}

// Validate reports the first setting which cannot be used.
func (c *Config) Validate() error {
	if !utils.Contains([]string{"pigo", "cascade", "opencv"}, c.Detector.Engine) {
		return fmt.Errorf("detector.engine: unknown engine %q", c.Detector.Engine)
	}
	if c.Detector.Engine != "pigo" && c.Detector.CascadeFile == "" {
		return fmt.Errorf("detector.cascade_file is required by the %s engine", c.Detector.Engine)
	}
	if err := c.Params().Validate(); err != nil {
		return fmt.Errorf("detector: %w", err)
	}
	if _, err := c.Style(); err != nil {
		return fmt.Errorf("annotation: %w", err)
	}
	if !utils.Contains([]string{"rembg", "rembg-http", "lumakey"}, c.BackgroundRemoval.Backend) {
		return fmt.Errorf("background_removal.backend: unknown backend %q", c.BackgroundRemoval.Backend)
	}
	if !utils.Contains([]string{"placeholder", "deepface"}, c.Estimator.Backend) {
		return fmt.Errorf("estimator.backend: unknown backend %q", c.Estimator.Backend)
	}
	if c.Pipeline.Workers < 0 {
		return errors.New("pipeline.workers must not be negative")
	}
	if c.Server.MaxUploadMB <= 0 {
		return errors.New("server.max_upload_mb must be positive")
	}
	return nil
}

// Params returns the detection parameters.
func (c *Config) Params() cascade.Params {
	d := c.Detector
	return cascade.Params{
		ScaleFactor:  d.ScaleFactor,
		MinNeighbors: d.MinNeighbors,
		MinSize:      image.Pt(d.MinFaceSize.Width, d.MinFaceSize.Height),
		MaxSize:      image.Pt(d.MaxFaceSize.Width, d.MaxFaceSize.Height),
	}
}

// Engine loads the configured detection engine. The pigo engine without a
// file selects the embedded facefinder cascade, reported as nil.
func (c *Config) Engine() (cascade.Classifier, error) {
	file := c.Detector.CascadeFile
	switch c.Detector.Engine {
	case "cascade":
		cc, err := cascade.Load(file)
		if err != nil {
			return nil, err
		}
		return cc, nil
	case "opencv":
		return cascade.LoadOpenCV(file)
	}
	if file == "" {
		return nil, nil
	}
	p, err := cascade.LoadPigo(file)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Style returns the annotation style.
func (c *Config) Style() (visage.Style, error) {
	a := c.Annotation
	box, err := utils.HexToNRGBA(a.Color)
	if err != nil {
		return visage.Style{}, err
	}
	style := visage.Style{
		BoxColor:      box,
		LineThickness: a.LineThickness,
		FontScale:     a.FontScale,
	}
	if a.LabelColor != "" {
		if style.LabelColor, err = utils.HexToNRGBA(a.LabelColor); err != nil {
			return visage.Style{}, err
		}
	}
	return style, style.Validate()
}

// Remover returns the configured background remover.
func (c *Config) Remover() visage.Remover {
	r := c.BackgroundRemoval
	switch r.Backend {
	case "rembg-http":
		return &remover.HTTP{URL: r.URL, Model: r.Model}
	case "lumakey":
		return remover.NewLumaKey()
	default:
		return &remover.CLI{Binary: r.Binary, Model: r.Model}
	}
}

// AttributeEstimator returns the configured attribute estimator.
func (c *Config) AttributeEstimator(log logrus.FieldLogger) (visage.AttributeEstimator, error) {
	if c.Estimator.Backend == "deepface" {
		return estimator.NewDeepFace(c.Estimator.URL, c.Estimator.Timeout, log)
	}
	return visage.PlaceholderEstimator{}, nil
}

// Logger builds the logger writing to out.
func (c *Config) Logger(out io.Writer) (*logrus.Logger, error) {
	return visage.NewLogger(c.Log.Level, c.Log.Format, out)
}

// Options assembles the pipeline options. The background remover session
// cache is created only when removal is enabled.
func (c *Config) Options(log logrus.FieldLogger) (visage.Options, error) {
	engine, err := c.Engine()
	if err != nil {
		return visage.Options{}, fmt.Errorf("detector: %w", err)
	}
	style, err := c.Style()
	if err != nil {
		return visage.Options{}, fmt.Errorf("annotation: %w", err)
	}
	est, err := c.AttributeEstimator(log)
	if err != nil {
		return visage.Options{}, fmt.Errorf("estimator: %w", err)
	}

	opts := visage.Options{
		Engine:                   engine,
		Params:                   c.Params(),
		Estimator:                est,
		Style:                    style,
		BackgroundRemovalEnabled: c.BackgroundRemoval.Enabled,
		Workers:                  c.Pipeline.Workers,
		Logger:                   log,
	}
	if c.BackgroundRemoval.Enabled {
		opts.Remover = visage.NewSessionCache(c.Remover(), log)
	}
	return opts, nil
}
