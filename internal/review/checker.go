// Package review hands recorded registrations to the human who verifies
// payment proofs. The check itself only confirms the hosted proof is still
// reachable; the payment is judged by a person.
package review

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/ProofDrop/internal/model"
)

// Checker confirms a registration's proof URL resolves and logs it for review.
type Checker struct {
	http *http.Client
	log  *zap.Logger
}

// NewChecker builds a Checker. A nil client gets a 10 second timeout.
func NewChecker(hc *http.Client, log *zap.Logger) *Checker {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Checker{http: hc, log: log}
}

// Check returns an error when the proof cannot be fetched so queue backends
// retry it later.
func (c *Checker) Check(ctx context.Context, reg model.Registration) error {
	status, err := c.probe(ctx, http.MethodHead, reg.Proof)
	if err == nil && status == http.StatusMethodNotAllowed {
		status, err = c.probe(ctx, http.MethodGet, reg.Proof)
	}
	if err != nil {
		return fmt.Errorf("probe proof %s: %w", reg.Proof, err)
	}
	if status < 200 || status > 299 {
		return fmt.Errorf("probe proof %s: status %d", reg.Proof, status)
	}
	c.log.Info("registration awaiting payment review",
		zap.String("id", reg.ID),
		zap.String("fullName", reg.FullName),
		zap.String("proof", reg.Proof),
		zap.Bool("secure24h", reg.Secure24h),
		zap.Time("timestamp", reg.Timestamp))
	return nil
}

func (c *Checker) probe(ctx context.Context, method, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, err
	}
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
