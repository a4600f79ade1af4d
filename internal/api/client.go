// Package api is the record-creation collaborator: it creates ShotBuzz
// records over HTTP so UI scenarios start from known data.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/xeipuuv/gojsonschema"

	"github.com/coherent-in/shotbuzz-e2e/internal/failure"
	"github.com/coherent-in/shotbuzz-e2e/internal/shotdata"
)

// createdSchema is the minimum a create response must satisfy.
const createdSchema = `{
  "type": "object",
  "required": ["name"],
  "properties": {
    "name": {"type": "string", "minLength": 1}
  }
}`

// Config configures a Client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
	Debug      bool
	// Prefix starts every generated record name, e.g. "F7".
	Prefix string
	Logger *log.Logger
}

// Client creates records through the ShotBuzz REST API.
type Client struct {
	http   *resty.Client
	prefix string
	namer  func(prefix string) string
	schema gojsonschema.JSONLoader
	logger *log.Logger
}

// Record is a created resource as echoed by the API.
type Record struct {
	Name   string
	Fields map[string]any
}

// NewClient creates a client. Retries are off unless RetryCount is set,
// since record creation is not idempotent.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "F7"
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	if cfg.Debug {
		httpClient.SetDebug(true)
	}

	return &Client{
		http:   httpClient,
		prefix: cfg.Prefix,
		namer:  RandomName,
		schema: gojsonschema.NewStringLoader(createdSchema),
		logger: cfg.Logger,
	}
}

// WithNamer replaces the name generator.
func (c *Client) WithNamer(fn func(prefix string) string) *Client {
	c.namer = fn
	return c
}

// RandomName returns prefix followed by a three digit number, e.g. F7_482.
// Collisions are possible; the backend rejects duplicates.
func RandomName(prefix string) string {
	return fmt.Sprintf("%s_%03d", prefix, 100+rand.Intn(900))
}

// CreateRecord posts base plus a generated name to /api/<resource>. Only
// 200 and 201 count as success; anything else is a SetupFailure wrapping an
// *APIError, and transport failures wrap a *NetworkError.
func (c *Client) CreateRecord(ctx context.Context, token, resource string, base any) (*Record, error) {
	body, err := toMap(base)
	if err != nil {
		return nil, failure.Wrap(err, failure.KindSetupFailure, "encode payload")
	}
	name := c.namer(c.prefix)
	body["name"] = name
	path := "/api/" + strings.Trim(resource, "/")

	c.logger.Printf("Creating %s with name: %s", strings.TrimSuffix(resource, "s"), name)

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(body).
		Post(path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, failure.Wrap(&NetworkError{Operation: "POST", URL: path, Err: err}, failure.KindSetupFailure, "create "+resource)
	}

	status := resp.StatusCode()
	if status != http.StatusOK && status != http.StatusCreated {
		apiErr := &APIError{
			StatusCode: status,
			Message:    http.StatusText(status),
			Details:    strings.TrimSpace(resp.String()),
		}
		return nil, failure.Wrap(apiErr, failure.KindSetupFailure, "create "+resource).WithObserved(fmt.Sprintf("HTTP %d", status))
	}

	rec, err := c.decode(resp.Body())
	if err != nil {
		return nil, failure.Wrap(err, failure.KindSetupFailure, "create "+resource).WithObserved(string(resp.Body()))
	}
	c.logger.Printf("[PASS] API: created %s", rec.Name)
	return rec, nil
}

// CreateShot creates a shot from payload.
func (c *Client) CreateShot(ctx context.Context, token string, payload shotdata.Payload) (*Record, error) {
	return c.CreateRecord(ctx, token, "shots", payload)
}

func (c *Client) decode(body []byte) (*Record, error) {
	result, err := gojsonschema.Validate(c.schema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, fmt.Errorf("invalid response body: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("unexpected response: %s", strings.Join(msgs, "; "))
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	name, _ := fields["name"].(string)
	return &Record{Name: name, Fields: fields}, nil
}

func toMap(v any) (map[string]any, error) {
	if v == nil {
		return map[string]any{}, nil
	}
	if m, ok := v.(map[string]any); ok {
		out := make(map[string]any, len(m)+1)
		for k, val := range m {
			out[k] = val
		}
		return out, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
