package bsale

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL   = "https://api.bsale.io/v1"
	DefaultPageSize  = 100
	DefaultPageDelay = 200 * time.Millisecond
	DefaultTimeout   = 60 * time.Second

	tokenHeader = "access_token"
)

var ErrEmptyToken = errors.New("bsale api token is empty")

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bsale api error %d on %s: %s", e.StatusCode, e.Path, e.Body)
}

type ClientOptions struct {
	Token     string
	BaseURL   string
	PageSize  int
	PageDelay time.Duration
	Timeout   time.Duration
	// HTTPClient overrides the default client built from Timeout.
	HTTPClient *http.Client
	Logger     logrus.FieldLogger
}

type Client struct {
	baseURL  string
	token    string
	pageSize int
	http     *http.Client
	limiter  *rate.Limiter
	logger   logrus.FieldLogger
}

func NewClient(opts ClientOptions) (*Client, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, ErrEmptyToken
	}
	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.PageDelay < 0 {
		opts.PageDelay = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}

	limit := rate.Inf
	if opts.PageDelay > 0 {
		limit = rate.Every(opts.PageDelay)
	}

	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    opts.Token,
		pageSize: opts.PageSize,
		http:     httpClient,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger.WithField("module", "bsale"),
	}, nil
}

type listResponse struct {
	Items  []json.RawMessage `json:"items"`
	Count  int               `json:"count"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
	Next   string            `json:"next"`
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(tokenHeader, c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Path: path, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}

// Fetch performs a single GET and returns the decoded JSON object, or nil on
// any transport, status or decode error. Errors are logged, never returned.
func (c *Client) Fetch(ctx context.Context, path string, params url.Values) json.RawMessage {
	body, err := c.get(ctx, path, params)
	if err != nil {
		c.logger.WithFields(logrus.Fields{"path": path, "params": params.Encode()}).WithError(err).Error("fetch failed")
		return nil
	}
	if !json.Valid(body) {
		c.logger.WithField("path", path).Error("fetch returned invalid json")
		return nil
	}
	return json.RawMessage(body)
}

// FetchPages walks limit/offset pages until an empty page and returns every
// item in source order. The offset advances by the number of items received.
func (c *Client) FetchPages(ctx context.Context, path string, params url.Values) ([]json.RawMessage, error) {
	var all []json.RawMessage
	offset := 0
	for page := 0; ; page++ {
		if page > 0 {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		} else {
			// first page consumes the burst token so the next one waits
			c.limiter.Allow()
		}

		current := url.Values{}
		for k, v := range params {
			current[k] = append([]string(nil), v...)
		}
		current.Set("limit", strconv.Itoa(c.pageSize))
		current.Set("offset", strconv.Itoa(offset))

		body, err := c.get(ctx, path, current)
		if err != nil {
			return nil, fmt.Errorf("fetch %s offset %d: %w", path, offset, err)
		}
		var parsed listResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("decode %s offset %d: %w", path, offset, err)
		}
		if len(parsed.Items) == 0 {
			return all, nil
		}
		all = append(all, parsed.Items...)
		offset += len(parsed.Items)
	}
}

// FetchAllPages is FetchPages for callers that treat any failure as "nothing
// to sync": the error is logged and an empty result is returned.
func (c *Client) FetchAllPages(ctx context.Context, path string, params url.Values) []json.RawMessage {
	items, err := c.FetchPages(ctx, path, params)
	if err != nil {
		c.logger.WithFields(logrus.Fields{"path": path, "params": params.Encode()}).WithError(err).Error("paginated fetch failed")
		return nil
	}
	return items
}
