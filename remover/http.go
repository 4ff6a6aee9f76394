package remover

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/esimov/visage"
)

// HTTP removes backgrounds through a running rembg server ("rembg s"),
// which keeps its model loaded between calls.
type HTTP struct {
	// URL is the server base URL, e.g. http://localhost:7000.
	URL string
	// Model is sent with every request. Defaults to DefaultModel.
	Model string
	// Client defaults to a client with a 60 second timeout.
	Client *http.Client
}

var (
	_ visage.Remover         = (*HTTP)(nil)
	_ visage.ConcurrencySafe = (*HTTP)(nil)
)

type httpSession struct {
	endpoint string
	model    string
	client   *http.Client
}

func (httpSession) Close() error { return nil }

// Name identifies the remover in logs.
func (h *HTTP) Name() string { return "rembg-http" }

// ConcurrencySafe reports true: the server handles concurrent requests.
func (h *HTTP) ConcurrencySafe() bool { return true }

// NewSession checks that the server answers. A server that cannot be
// reached makes the capability unavailable; a server error is transient.
func (h *HTTP) NewSession(ctx context.Context) (visage.Session, error) {
	base, err := url.Parse(h.URL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: invalid rembg server URL %q", visage.ErrRemoverUnavailable, h.URL)
	}
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", visage.ErrRemoverUnavailable, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: rembg server unreachable: %v", visage.ErrRemoverUnavailable, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("rembg server answered %s", resp.Status)
	}

	model := h.Model
	if model == "" {
		model = DefaultModel
	}
	return httpSession{
		endpoint: base.JoinPath("api", "remove").String(),
		model:    model,
		client:   client,
	}, nil
}

// Remove uploads img as the "file" field of a multipart form and decodes
// the PNG answer.
func (h *HTTP) Remove(ctx context.Context, img image.Image, s visage.Session) (image.Image, error) {
	sess, ok := s.(httpSession)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected session %T", visage.ErrRemovalFailed, s)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "image.png")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", visage.ErrRemovalFailed, err)
	}
	if err := png.Encode(part, img); err != nil {
		return nil, fmt.Errorf("%w: encoding input: %v", visage.ErrRemovalFailed, err)
	}
	if err := writer.WriteField("model", sess.model); err != nil {
		return nil, fmt.Errorf("%w: %v", visage.ErrRemovalFailed, err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", visage.ErrRemovalFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sess.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", visage.ErrRemovalFailed, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := sess.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", visage.ErrRemovalFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: rembg server answered %s: %s", visage.ErrRemovalFailed, resp.Status, strings.TrimSpace(string(msg)))
	}
	fg, err := png.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding rembg answer: %v", visage.ErrRemovalFailed, err)
	}
	return fg, nil
}
