// Package estimator holds attribute estimators backed by external models.
package estimator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/esimov/visage"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds a single DeepFace request.
const DefaultTimeout = 30 * time.Second

// DeepFace estimates age and emotion through the REST API of a DeepFace
// server. The face crop is sent as is and the server is told to skip its
// own detection.
type DeepFace struct {
	endpoint string
	client   *http.Client
	log      logrus.FieldLogger
}

var _ visage.AttributeEstimator = (*DeepFace)(nil)

type analyzeRequest struct {
	Img              string   `json:"img"`
	Actions          []string `json:"actions"`
	EnforceDetection bool     `json:"enforce_detection"`
	DetectorBackend  string   `json:"detector_backend"`
}

type analyzeResponse struct {
	Results []struct {
		Age             float64 `json:"age"`
		DominantEmotion string  `json:"dominant_emotion"`
	} `json:"results"`
	Error string `json:"error"`
}

// NewDeepFace returns an estimator talking to the server at baseURL.
// A zero timeout selects DefaultTimeout; a nil logger discards messages.
func NewDeepFace(baseURL string, timeout time.Duration, log logrus.FieldLogger) (*DeepFace, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid DeepFace URL %q", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &DeepFace{
		endpoint: base.JoinPath("analyze").String(),
		client:   &http.Client{Timeout: timeout},
		log:      log.WithField("component", "deepface"),
	}, nil
}

// Estimate sends the face crop to the server. Every failure other than ctx
// cancellation wraps visage.ErrEstimationUnavailable.
func (d *DeepFace) Estimate(ctx context.Context, face image.Image) (visage.AttributeEstimate, error) {
	unknown := visage.UnknownEstimate

	var img bytes.Buffer
	if err := png.Encode(&img, face); err != nil {
		return unknown, fmt.Errorf("%w: encoding face: %v", visage.ErrEstimationUnavailable, err)
	}
	body, err := json.Marshal(analyzeRequest{
		Img:             "data:image/png;base64," + base64.StdEncoding.EncodeToString(img.Bytes()),
		Actions:         []string{"age", "emotion"},
		DetectorBackend: "skip",
	})
	if err != nil {
		return unknown, fmt.Errorf("%w: %v", visage.ErrEstimationUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return unknown, fmt.Errorf("%w: %v", visage.ErrEstimationUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return unknown, ctx.Err()
		}
		return unknown, fmt.Errorf("%w: %v", visage.ErrEstimationUnavailable, err)
	}
	defer resp.Body.Close()

	var out analyzeResponse
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if json.Unmarshal(msg, &out) == nil && out.Error != "" {
			msg = []byte(out.Error)
		}
		return unknown, fmt.Errorf("%w: DeepFace answered %s: %s", visage.ErrEstimationUnavailable, resp.Status, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return unknown, fmt.Errorf("%w: decoding DeepFace answer: %v", visage.ErrEstimationUnavailable, err)
	}
	if len(out.Results) == 0 {
		return unknown, fmt.Errorf("%w: DeepFace returned no result", visage.ErrEstimationUnavailable)
	}

	r := out.Results[0]
	est := visage.AttributeEstimate{
		Age:     int(math.Round(r.Age)),
		Emotion: visage.ParseEmotion(r.DominantEmotion),
	}
	d.log.WithFields(logrus.Fields{
		"age":     est.Age,
		"emotion": r.DominantEmotion,
		"took":    time.Since(start),
	}).Debug("face analyzed")

	if !est.Known() {
		return unknown, fmt.Errorf("%w: unusable answer age=%v emotion=%q", visage.ErrEstimationUnavailable, r.Age, r.DominantEmotion)
	}
	return est, nil
}
