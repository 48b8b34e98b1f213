package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/benbjohnson/clock"
)

// FileSource polls a JPEG file written by the external capture process.
// Each Next waits one poll interval, then reads the file.
type FileSource struct {
	path     string
	interval time.Duration
	clock    clock.Clock
}

// NewFileSource creates a source over the capture file.
func NewFileSource(path string, interval time.Duration, clk clock.Clock) *FileSource {
	return &FileSource{path: path, interval: interval, clock: clk}
}

// Next returns the current capture file contents.
func (s *FileSource) Next(ctx context.Context) (Frame, error) {
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-s.clock.After(s.interval):
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return Frame{}, fmt.Errorf("read capture file: %w", err)
	}
	return Frame{Data: data, CapturedAt: s.clock.Now()}, nil
}

// FrameDiff is a crude motion estimator: it counts bytes that changed
// between consecutive frames. Good enough to arm the classifier; the
// real motion mask is computed by the capture process.
type FrameDiff struct {
	prev []byte
}

// NewFrameDiff creates the estimator.
func NewFrameDiff() *FrameDiff {
	return &FrameDiff{}
}

// MotionPixels counts differing bytes against the previous frame. The
// first frame scores zero.
func (d *FrameDiff) MotionPixels(frame Frame) int {
	defer func() {
		d.prev = append(d.prev[:0], frame.Data...)
	}()

	if d.prev == nil {
		return 0
	}

	n := len(frame.Data)
	if len(d.prev) < n {
		n = len(d.prev)
	}

	changed := 0
	for i := 0; i < n; i++ {
		if frame.Data[i] != d.prev[i] {
			changed++
		}
	}
	changed += len(frame.Data) - n
	return changed
}

// HTTPClassifier sends a frame to an external inference endpoint and
// decodes its verdict.
type HTTPClassifier struct {
	url    string
	client *http.Client
}

// NewHTTPClassifier creates a classifier against the inference endpoint.
func NewHTTPClassifier(url string, client *http.Client) *HTTPClassifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClassifier{url: url, client: client}
}

type classifyResponse struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Classify posts the JPEG and returns the top verdict.
func (c *HTTPClassifier) Classify(ctx context.Context, frame Frame) (string, float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(frame.Data))
	if err != nil {
		return "", 0, fmt.Errorf("build classify request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("classify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("classify request: unexpected status %d", resp.StatusCode)
	}

	var verdict classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return "", 0, fmt.Errorf("decode classify response: %w", err)
	}
	return verdict.Label, verdict.Confidence, nil
}
