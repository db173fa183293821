package detector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/pkg/codec"
)

const (
	defaultSidecarTimeout = 3 * time.Second
	maxSidecarResponse    = 1 << 20
	detectPath            = "/v1/detect"
	healthPath            = "/healthz"
)

// sidecarRequest is the CBOR body posted to the inference sidecar.
type sidecarRequest struct {
	Image         []byte `cbor:"image"`
	Format        string `cbor:"format"`
	Width         int    `cbor:"width"`
	Height        int    `cbor:"height"`
	WantEmbedding bool   `cbor:"want_embedding"`
}

// sidecarError is the CBOR body of a non-200 sidecar response.
type sidecarError struct {
	Message string `cbor:"message"`
}

// Sidecar calls an out-of-process inference server that hosts the face
// detector, landmark model and embedding network. Requests and responses
// are CBOR.
type Sidecar struct {
	baseURL string
	client  *http.Client
}

// SidecarOption configures a Sidecar.
type SidecarOption func(*Sidecar)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) SidecarOption {
	return func(s *Sidecar) {
		if c != nil {
			s.client = c
		}
	}
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) SidecarOption {
	return func(s *Sidecar) {
		if d > 0 {
			s.client = &http.Client{Timeout: d}
		}
	}
}

// NewSidecar creates a provider talking to the sidecar at baseURL.
func NewSidecar(baseURL string, opts ...SidecarOption) *Sidecar {
	s := &Sidecar{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultSidecarTimeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Detect sends one frame and decodes the detection.
func (s *Sidecar) Detect(ctx context.Context, frame model.Frame, wantEmbedding bool) (model.Detection, error) {
	body, err := codec.Marshal(sidecarRequest{
		Image:         frame.Data,
		Format:        frame.Format,
		Width:         frame.Width,
		Height:        frame.Height,
		WantEmbedding: wantEmbedding,
	})
	if err != nil {
		return model.Detection{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+detectPath, bytes.NewReader(body))
	if err != nil {
		return model.Detection{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", codec.ContentType)
	req.Header.Set("Accept", codec.ContentType)

	resp, err := s.client.Do(req)
	if err != nil {
		return model.Detection{}, fmt.Errorf("%w: %w", ErrSidecar, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxSidecarResponse))
	if err != nil {
		return model.Detection{}, fmt.Errorf("%w: read response: %w", ErrSidecar, err)
	}
	if resp.StatusCode != http.StatusOK {
		var e sidecarError
		if codec.Unmarshal(raw, &e) != nil || e.Message == "" {
			e.Message = http.StatusText(resp.StatusCode)
		}
		return model.Detection{}, fmt.Errorf("%w: status %d: %s", ErrSidecar, resp.StatusCode, e.Message)
	}

	var det model.Detection
	if err := codec.Unmarshal(raw, &det); err != nil {
		return model.Detection{}, fmt.Errorf("%w: decode response: %w", ErrSidecar, err)
	}
	if det.Width == 0 || det.Height == 0 {
		det.Width, det.Height = frame.Width, frame.Height
	}
	return det, nil
}

// Probe checks that the sidecar answers its health endpoint.
func (s *Sidecar) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+healthPath, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSidecar, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health status %d", ErrSidecar, resp.StatusCode)
	}
	return nil
}
