package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/quoted/internal/config"
	"github.com/fyrsmithlabs/quoted/internal/logging"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	defaultRateLimit   = 10.0
	maxResponseBytes   = 8 << 20
)

// HTTP is a Directory backed by a JSON REST API:
//
//	GET /clients/{id}          one client, 404 when unknown
//	GET /clients?email=...     matching clients
//	GET /clients?phone=...     matching clients
//	GET /clients?page=i&size=n one page in stable order
//
// Requests are paced by a client-side limiter and made exactly once.
type HTTP struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logging.Logger
}

// NewHTTP builds an HTTP directory. When cfg.ClientID is set requests are
// authenticated with OAuth2 client credentials against cfg.TokenURL.
func NewHTTP(ctx context.Context, cfg config.DirectoryConfig, logger *logging.Logger) (*HTTP, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("directory base URL required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid directory base URL: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	base := &http.Client{Timeout: timeout}

	client := base
	if cfg.ClientID != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret.Value(),
			TokenURL:     cfg.TokenURL,
		}
		client = cc.Client(context.WithValue(ctx, oauth2.HTTPClient, base))
		client.Timeout = timeout
	}

	limit := cfg.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}
	return &HTTP{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: client,
		limiter:    rate.NewLimiter(rate.Limit(limit), 1),
		logger:     logger.Named("directory"),
	}, nil
}

func (d *HTTP) GetByID(ctx context.Context, id string) (*Client, error) {
	if id == "" {
		return nil, nil
	}
	var c Client
	found, err := d.get(ctx, "/clients/"+url.PathEscape(id), nil, &c)
	if err != nil || !found {
		return nil, err
	}
	return &c, nil
}

func (d *HTTP) SearchByEmail(ctx context.Context, email string) (*Client, error) {
	return d.searchOne(ctx, url.Values{"email": {email}})
}

func (d *HTTP) SearchByPhone(ctx context.Context, phone string) (*Client, error) {
	return d.searchOne(ctx, url.Values{"phone": {phone}})
}

func (d *HTTP) ListPage(ctx context.Context, page, size int) ([]Client, error) {
	var clients []Client
	q := url.Values{"page": {strconv.Itoa(page)}, "size": {strconv.Itoa(size)}}
	if _, err := d.get(ctx, "/clients", q, &clients); err != nil {
		return nil, err
	}
	return clients, nil
}

func (d *HTTP) searchOne(ctx context.Context, q url.Values) (*Client, error) {
	var clients []Client
	found, err := d.get(ctx, "/clients", q, &clients)
	if err != nil || !found || len(clients) == 0 {
		return nil, err
	}
	return &clients[0], nil
}

// get decodes a 200 answer into out. A 404 is reported as not found.
func (d *HTTP) get(ctx context.Context, path string, q url.Values, out any) (bool, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return false, fmt.Errorf("rate limiter error: %w", err)
	}

	u := d.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("directory request failed: %w", err)
	}
	defer resp.Body.Close()

	d.logger.Trace(ctx, "directory request",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return false, nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return false, fmt.Errorf("directory error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return false, fmt.Errorf("failed to decode directory response: %w", err)
	}
	return true, nil
}
