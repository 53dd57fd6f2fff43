// Package salesforce talks to the Tooling REST API of one org. Client is
// the plain HTTP implementation of model.LogSource; Breaker wraps any
// LogSource with a circuit breaker.
package salesforce

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tinytelemetry/sflogs/internal/logging"
	"github.com/tinytelemetry/sflogs/internal/metrics"
	"github.com/tinytelemetry/sflogs/internal/model"
)

const (
	DefaultAPIVersion = "60.0"
	defaultTimeout    = 30 * time.Second

	// maxErrorBodySize caps how much of a failed response is read for the error message.
	maxErrorBodySize = 64 * 1024
)

// Config holds the connection parameters for one org.
type Config struct {
	InstanceURL       string
	AccessToken       string
	APIVersion        string
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxRetries        int
	RetryBaseDelay    time.Duration
	HTTPClient        *http.Client
}

// Client is a Tooling API client. It is safe for concurrent use.
type Client struct {
	instanceURL    string
	dataURL        string
	token          string
	http           *http.Client
	limiter        *rate.Limiter
	maxRetries     int
	retryBaseDelay time.Duration
	log            zerolog.Logger
}

var _ model.LogSource = (*Client)(nil)

// NewClient validates cfg and returns a client.
func NewClient(cfg Config) (*Client, error) {
	instance := strings.TrimRight(strings.TrimSpace(cfg.InstanceURL), "/")
	if instance == "" {
		return nil, errors.New("salesforce: instance url is required")
	}
	if _, err := url.ParseRequestURI(instance); err != nil {
		return nil, fmt.Errorf("salesforce: invalid instance url %q: %w", instance, err)
	}
	if cfg.AccessToken == "" {
		return nil, errors.New("salesforce: access token is required")
	}
	version := strings.TrimPrefix(cfg.APIVersion, "v")
	if version == "" {
		version = DefaultAPIVersion
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	delay := cfg.RetryBaseDelay
	if delay <= 0 {
		delay = time.Second
	}

	return &Client{
		instanceURL:    instance,
		dataURL:        instance + "/services/data/v" + version,
		token:          cfg.AccessToken,
		http:           httpClient,
		limiter:        rate.NewLimiter(limit, 1),
		maxRetries:     retries,
		retryBaseDelay: delay,
		log:            logging.With("salesforce"),
	}, nil
}

// InstanceURL returns the org base URL.
func (c *Client) InstanceURL() string {
	return c.instanceURL
}

type queryResponse struct {
	TotalSize      int               `json:"totalSize"`
	Done           bool              `json:"done"`
	NextRecordsURL string            `json:"nextRecordsUrl"`
	Records        []model.RawRecord `json:"records"`
}

// Query runs a Tooling API SOQL query and follows nextRecordsUrl until
// every page has been read.
func (c *Client) Query(ctx context.Context, queryText string) ([]model.RawRecord, error) {
	endpoint := c.dataURL + "/tooling/query?" + url.Values{"q": {queryText}}.Encode()

	var records []model.RawRecord
	for endpoint != "" {
		var page queryResponse
		if err := c.doJSON(ctx, "query", http.MethodGet, endpoint, &page); err != nil {
			return nil, err
		}
		records = append(records, page.Records...)
		endpoint = ""
		if !page.Done && page.NextRecordsURL != "" {
			endpoint = c.instanceURL + page.NextRecordsURL
		}
	}
	return records, nil
}

// FetchBody returns the raw text of one log.
func (c *Client) FetchBody(ctx context.Context, logID string) (string, error) {
	if logID == "" {
		return "", fmt.Errorf("%w: empty log id", model.ErrNotFound)
	}
	endpoint := c.dataURL + "/tooling/sobjects/ApexLog/" + url.PathEscape(logID) + "/Body"
	resp, err := c.do(ctx, "body", http.MethodGet, endpoint)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read log body: %w", model.ErrTransport, err)
	}
	return string(body), nil
}

type userInfo struct {
	UserID            string `json:"user_id"`
	PreferredUsername string `json:"preferred_username"`
	OrganizationID    string `json:"organization_id"`
}

// ResolveIdentity asks the OAuth userinfo endpoint who the token belongs to.
func (c *Client) ResolveIdentity(ctx context.Context) (model.Identity, error) {
	var info userInfo
	if err := c.doJSON(ctx, "identity", http.MethodGet, c.instanceURL+"/services/oauth2/userinfo", &info); err != nil {
		if errors.Is(err, model.ErrAuth) {
			return model.Identity{}, err
		}
		return model.Identity{}, fmt.Errorf("%w: %w", model.ErrAuth, err)
	}
	if info.UserID == "" {
		return model.Identity{}, fmt.Errorf("%w: userinfo returned no user id", model.ErrAuth)
	}
	return model.Identity{
		UserID:   info.UserID,
		Username: info.PreferredUsername,
		OrgID:    info.OrganizationID,
	}, nil
}

type deleteResult struct {
	ID      string     `json:"id"`
	Success bool       `json:"success"`
	Errors  []apiError `json:"errors"`
}

// DeleteByIDs deletes up to DeleteBatchSize logs in one composite call.
// Ids that no longer exist are not treated as failures.
func (c *Client) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) > model.DeleteBatchSize {
		return fmt.Errorf("%w: %d ids", model.ErrBatchTooLarge, len(ids))
	}
	params := url.Values{
		"ids":       {strings.Join(ids, ",")},
		"allOrNone": {"false"},
	}
	endpoint := c.dataURL + "/tooling/composite/sobjects?" + params.Encode()

	var results []deleteResult
	if err := c.doJSON(ctx, "delete", http.MethodDelete, endpoint, &results); err != nil {
		return err
	}
	for _, r := range results {
		if r.Success {
			continue
		}
		if len(r.Errors) > 0 && r.Errors[0].Code == "ENTITY_IS_DELETED" {
			continue
		}
		msg := "unknown error"
		if len(r.Errors) > 0 {
			msg = r.Errors[0].Message
		}
		return fmt.Errorf("%w: delete %s: %s", model.ErrTransport, r.ID, msg)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, op, method, endpoint string, out interface{}) error {
	resp, err := c.do(ctx, op, method, endpoint)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %w", model.ErrTransport, op, err)
	}
	return nil
}

// do sends one request, retrying HTTP 429 with exponential backoff, and
// maps non-2xx statuses to model errors. The caller closes the body.
func (c *Client) do(ctx context.Context, op, method, endpoint string) (resp *http.Response, err error) {
	start := time.Now()
	defer func() {
		metrics.RemoteRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		metrics.RemoteRequests.WithLabelValues(op, outcome(err)).Inc()
	}()

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", model.ErrTransport, op, err)
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("%w: build %s request: %w", model.ErrTransport, op, err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", model.ErrTransport, op, err)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt < c.maxRetries {
			_ = resp.Body.Close()
			delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))
			if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && s >= 0 {
				delay = time.Duration(s) * time.Second
			}
			c.log.Debug().Str("op", op).Dur("delay", delay).Msg("rate limited, backing off")
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %s: %w", model.ErrTransport, op, ctx.Err())
			}
		}

		defer resp.Body.Close()
		return nil, statusError(op, resp)
	}
}

type apiError struct {
	Message string `json:"message"`
	Code    string `json:"errorCode"`
	Status  string `json:"statusCode"`
}

// statusError maps an HTTP failure to a model error. Salesforce reports
// errors as a JSON array of {message, errorCode}.
func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))

	detail := strings.TrimSpace(string(body))
	var apiErrs []apiError
	if err := json.Unmarshal(body, &apiErrs); err == nil && len(apiErrs) > 0 {
		detail = apiErrs[0].Message
		if apiErrs[0].Code != "" {
			detail = apiErrs[0].Code + ": " + detail
		}
	} else {
		var single apiError
		if err := json.Unmarshal(body, &single); err == nil && single.Message != "" {
			detail = single.Message
		}
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %w: %s status %d: %s", model.ErrTransport, model.ErrAuth, op, resp.StatusCode, detail)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s status %d: %s", model.ErrNotFound, op, resp.StatusCode, detail)
	default:
		return fmt.Errorf("%w: %s status %d: %s", model.ErrTransport, op, resp.StatusCode, detail)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrAuth):
		return "auth"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
