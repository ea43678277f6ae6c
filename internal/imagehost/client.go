// Package imagehost uploads payment-proof images to an ImgBB-compatible image
// hosting API and returns the public URL it assigns.
package imagehost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/ProofDrop/internal/common"
	"github.com/dharsanguruparan/ProofDrop/internal/model"
)

const (
	defaultField     = "image"
	defaultTimeout   = 30 * time.Second
	maxResponseBytes = 1 << 20
)

// Client performs single-attempt uploads; there is no retry.
type Client struct {
	endpoint string
	key      string
	field    string
	http     *http.Client
	log      *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithField changes the multipart field name carrying the image.
func WithField(field string) Option {
	return func(c *Client) {
		if field != "" {
			c.field = field
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New builds a Client for endpoint, sending key as the "key" query parameter.
func New(endpoint, key string, opts ...Option) (*Client, error) {
	if _, err := url.Parse(endpoint); err != nil || endpoint == "" {
		return nil, fmt.Errorf("invalid image host endpoint %q", endpoint)
	}
	if key == "" {
		return nil, errors.New("image host key is empty")
	}
	c := &Client{
		endpoint: endpoint,
		key:      key,
		field:    defaultField,
		http:     &http.Client{Timeout: defaultTimeout},
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// uploadResponse only names the field we need; anything else the host sends
// is ignored.
type uploadResponse struct {
	Data *struct {
		URL *string `json:"url"`
	} `json:"data"`
}

// Upload posts file to the host and returns its public URL. Every failure is
// a *common.UploadError.
func (c *Client) Upload(ctx context.Context, file model.SelectedFile) (string, error) {
	body, contentType, err := c.encode(file)
	if err != nil {
		return "", &common.UploadError{Op: "encode", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.requestURL(), body)
	if err != nil {
		return "", &common.UploadError{Op: "request", Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", &common.UploadError{Op: "post", Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", &common.UploadError{Op: "read", Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &common.UploadError{Op: "post", Status: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}
	hosted, err := extractURL(raw)
	if err != nil {
		return "", &common.UploadError{Op: "decode", Status: resp.StatusCode, Err: err}
	}
	c.log.Debug("proof uploaded",
		zap.String("file", file.Name),
		zap.Int64("size", file.Size),
		zap.Duration("took", time.Since(start)))
	return hosted, nil
}

func (c *Client) requestURL() string {
	u, _ := url.Parse(c.endpoint)
	q := u.Query()
	q.Set("key", c.key)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) encode(file model.SelectedFile) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	name := file.Name
	if name == "" {
		name = "proof"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, c.field, name))
	if file.ContentType != "" {
		h.Set("Content-Type", file.ContentType)
	} else {
		h.Set("Content-Type", "application/octet-stream")
	}
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func extractURL(raw []byte) (string, error) {
	var payload uploadResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("malformed response: %w", err)
	}
	if payload.Data == nil || payload.Data.URL == nil || *payload.Data.URL == "" {
		return "", errors.New("response has no data.url")
	}
	return *payload.Data.URL, nil
}
