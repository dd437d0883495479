package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hyperjump/kensaku/internal/models"
)

// ErrServerUnreachable is returned when no kensaku server answers at the base URL.
var ErrServerUnreachable = errors.New("kensaku server unreachable")

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client calls the kensaku HTTP API.
type Client struct {
	http *resty.Client
}

// NewClient returns a client for the server at baseURL, e.g. http://localhost:3001.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// do sends req and maps transport failures and error bodies to Go errors.
func (c *Client) do(req *resty.Request, method, path string) (*resty.Response, error) {
	var apiErr errorBody
	resp, err := req.SetError(&apiErr).Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServerUnreachable, err)
	}
	if resp.IsError() {
		msg := apiErr.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode())
		}
		return nil, &APIError{StatusCode: resp.StatusCode(), Message: msg}
	}
	return resp, nil
}

// Query asks a question.
func (c *Client) Query(ctx context.Context, query string, topK int) (*models.QueryResponse, error) {
	var out models.QueryResponse
	req := c.http.R().SetContext(ctx).
		SetBody(&models.QueryRequest{Query: query, TopK: topK}).
		SetResult(&out)
	if _, err := c.do(req, http.MethodPost, "/api/query"); err != nil {
		return nil, err
	}
	return &out, nil
}

// Documents lists uploaded documents.
func (c *Client) Documents(ctx context.Context) ([]*models.Document, error) {
	var out struct {
		Documents []*models.Document `json:"documents"`
	}
	req := c.http.R().SetContext(ctx).SetResult(&out)
	if _, err := c.do(req, http.MethodGet, "/api/documents"); err != nil {
		return nil, err
	}
	return out.Documents, nil
}

// Upload sends the file at path. created is false when a document with the same name already existed.
func (c *Client) Upload(ctx context.Context, path string) (doc *models.Document, created bool, err error) {
	var out struct {
		Document *models.Document `json:"document"`
	}
	req := c.http.R().SetContext(ctx).SetFile("file", path).SetResult(&out)
	resp, err := c.do(req, http.MethodPost, "/api/documents/upload")
	if err != nil {
		return nil, false, err
	}
	return out.Document, resp.StatusCode() == http.StatusCreated, nil
}

// Delete removes a document by ID.
func (c *Client) Delete(ctx context.Context, id string) error {
	_, err := c.do(c.http.R().SetContext(ctx), http.MethodDelete, "/api/documents/"+id)
	return err
}

// Status returns index statistics.
func (c *Client) Status(ctx context.Context) (*models.Status, error) {
	var out models.Status
	req := c.http.R().SetContext(ctx).SetResult(&out)
	if _, err := c.do(req, http.MethodGet, "/api/status"); err != nil {
		return nil, err
	}
	return &out, nil
}
