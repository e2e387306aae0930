// Package audit
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/papersim/trading-engine/internal/db"
)

// Recorder receives every completed transaction for external audit. Failures
// must never block or roll back the trade that triggered them.
type Recorder interface {
	Record(ctx context.Context, tx db.Transaction) error
}

// Nop is used when auditing is disabled.
type Nop struct{}

func (Nop) Record(context.Context, db.Transaction) error { return nil }

// HTTPRecorder posts each transaction as JSON to an external audit endpoint.
type HTTPRecorder struct {
	url    string
	client *http.Client
}

func NewHTTPRecorder(url string) *HTTPRecorder {
	return &HTTPRecorder{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *HTTPRecorder) Record(ctx context.Context, tx db.Transaction) error {
	body, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("encoding audit record: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting audit record: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("audit endpoint returned %s", resp.Status)
	}
	return nil
}
