// Package predict sends a selected image to the remote prediction API and
// renders whatever JSON comes back as text.
package predict

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/predictform/server/internal/models"
)

// FieldName is the multipart part that carries the image.
const FieldName = "image"

const defaultPartContentType = "application/octet-stream"

// ErrNoEndpoint is returned by Predict when no endpoint was configured.
var ErrNoEndpoint = errors.New("prediction endpoint not configured")

// Config describes how to build a Client.
type Config struct {
	Endpoint string
	// Timeout of zero leaves the transport default in place.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Upload is the file handed to Predict.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// Result is a successful prediction rendered for display.
type Result struct {
	StatusCode int
	Text       string
	Shape      models.ResponseShape
}

// Client posts uploads to one fixed endpoint.
type Client struct {
	endpoint string
	client   *http.Client
}

// New validates the endpoint and builds a Client. An empty endpoint is
// accepted; every Predict call then fails with ErrNoEndpoint.
func New(cfg Config) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint != "" {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse endpoint: %w", err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("endpoint must be an absolute http(s) URL: %q", endpoint)
		}
	}
	return &Client{
		endpoint: endpoint,
		client:   pickHTTPClient(cfg.HTTPClient, cfg.Timeout),
	}, nil
}

func pickHTTPClient(custom *http.Client, timeout time.Duration) *http.Client {
	if custom != nil {
		return custom
	}
	return &http.Client{Timeout: timeout}
}

// Endpoint reports the configured endpoint URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Predict issues exactly one multipart POST carrying up in the "image" part.
// Non-2xx responses yield a *StatusError; an unparseable body yields a
// *DecodeError.
func (c *Client) Predict(ctx context.Context, up Upload) (*Result, error) {
	if c.endpoint == "" {
		return nil, ErrNoEndpoint
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreatePart(imagePartHeader(up.Filename, up.ContentType))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, up.Body); err != nil {
		return nil, fmt.Errorf("copy image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	log.Infof("POST %s -> %d", c.endpoint, resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	text, shape, err := Pretty(raw)
	if err != nil {
		return nil, err
	}
	return &Result{StatusCode: resp.StatusCode, Text: text, Shape: shape}, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func imagePartHeader(filename, contentType string) textproto.MIMEHeader {
	if contentType == "" {
		contentType = defaultPartContentType
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		FieldName, quoteEscaper.Replace(filename)))
	h.Set("Content-Type", contentType)
	return h
}
