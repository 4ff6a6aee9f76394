package visage

import (
	"context"
	"fmt"
	"hash/fnv"
	"image"

	"golang.org/x/text/cases"
)

// Emotion is the dominant facial expression of a face.
type Emotion int

// The closed set of emotions an estimate may carry.
const (
	EmotionUnknown Emotion = iota
	Happy
	Neutral
	Surprise
	Anger
	Sad
	Disgust
	Fear
)

var emotionNames = [...]string{
	EmotionUnknown: "unknown",
	Happy:          "Happy",
	Neutral:        "Neutral",
	Surprise:       "Surprise",
	Anger:          "Anger",
	Sad:            "Sad",
	Disgust:        "Disgust",
	Fear:           "Fear",
}

func (e Emotion) String() string {
	if e < 0 || int(e) >= len(emotionNames) {
		return emotionNames[EmotionUnknown]
	}
	return emotionNames[e]
}

// MarshalText implements encoding.TextMarshaler.
func (e Emotion) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *Emotion) UnmarshalText(text []byte) error {
	*e = ParseEmotion(string(text))
	return nil
}

// emotionAliases maps case folded model vocabularies onto the closed set.
var emotionAliases = map[string]Emotion{
	"happy":     Happy,
	"happiness": Happy,
	"neutral":   Neutral,
	"surprise":  Surprise,
	"surprised": Surprise,
	"anger":     Anger,
	"angry":     Anger,
	"sad":       Sad,
	"sadness":   Sad,
	"disgust":   Disgust,
	"disgusted": Disgust,
	"fear":      Fear,
	"fearful":   Fear,
	"scared":    Fear,
}

// ParseEmotion maps an emotion name to the closed set. Matching is case
// insensitive; unrecognised names map to EmotionUnknown.
func ParseEmotion(name string) Emotion {
	if e, ok := emotionAliases[cases.Fold().String(name)]; ok {
		return e
	}
	return EmotionUnknown
}

// AttributeEstimate is the age and dominant emotion estimated for one face.
type AttributeEstimate struct {
	Age     int     `json:"age"`
	Emotion Emotion `json:"emotion"`
}

// UnknownEstimate stands in for a face whose attributes could not be estimated.
var UnknownEstimate = AttributeEstimate{Emotion: EmotionUnknown}

// Known reports whether the estimate carries a usable age and emotion.
func (a AttributeEstimate) Known() bool {
	return a.Age > 0 && a.Emotion != EmotionUnknown
}

// Label renders the estimate the way it is drawn above a face box.
func (a AttributeEstimate) Label() string {
	if !a.Known() {
		return UnknownEstimate.Emotion.String()
	}
	return fmt.Sprintf("%d yrs (%s)", a.Age, a.Emotion)
}

// AttributeEstimator estimates the attributes of a cropped face.
// Implementations return an error wrapping ErrEstimationUnavailable when a
// face cannot be processed, and must be safe for concurrent use.
type AttributeEstimator interface {
	Estimate(ctx context.Context, face image.Image) (AttributeEstimate, error)
}

// StaticEstimator returns the same estimate for every face.
type StaticEstimator struct {
	Result AttributeEstimate
}

// Estimate returns the configured estimate.
func (s StaticEstimator) Estimate(ctx context.Context, _ image.Image) (AttributeEstimate, error) {
	if err := ctx.Err(); err != nil {
		return UnknownEstimate, err
	}
	return s.Result, nil
}

const (
	// DefaultMinFaceSide is the smallest face side the placeholder estimator accepts.
	DefaultMinFaceSide = 8

	placeholderMinAge  = 20
	placeholderAgeSpan = 25
)

// PlaceholderEstimator stands in for an attribute model. The age is drawn
// from [20, 45) by hashing the face dimensions and pixels, so identical
// faces always get the same estimate, and the emotion is always Neutral.
type PlaceholderEstimator struct {
	// MinSide is the smallest accepted face side. Zero means DefaultMinFaceSide.
	MinSide int
}

// Estimate derives a reproducible estimate from the face pixels.
func (p PlaceholderEstimator) Estimate(ctx context.Context, face image.Image) (AttributeEstimate, error) {
	if err := ctx.Err(); err != nil {
		return UnknownEstimate, err
	}
	minSide := p.MinSide
	if minSide <= 0 {
		minSide = DefaultMinFaceSide
	}
	b := face.Bounds()
	if b.Dx() < minSide || b.Dy() < minSide {
		return UnknownEstimate, fmt.Errorf("%w: face %dx%d is smaller than %dpx", ErrEstimationUnavailable, b.Dx(), b.Dy(), minSide)
	}

	src := imgToNRGBA(face)
	h := fnv.New32a()
	fmt.Fprintf(h, "%dx%d;", b.Dx(), b.Dy())
	for y := 0; y < b.Dy(); y++ {
		i := src.PixOffset(0, y)
		h.Write(src.Pix[i : i+b.Dx()*4])
	}
	return AttributeEstimate{
		Age:     placeholderMinAge + int(h.Sum32()%placeholderAgeSpan),
		Emotion: Neutral,
	}, nil
}
