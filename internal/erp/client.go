package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"catsync/internal/logger"
	"catsync/internal/metrics"
	"catsync/internal/settings"
)

const (
	chunkSize      = 25
	chunkDelay     = 200 * time.Millisecond
	requestTimeout = 30 * time.Second

	// Backoff for the remote's concurrent-access rejection.
	maxAttempts  = 3
	retryBase    = 500 * time.Millisecond
	retryCeiling = 5 * time.Second
)

// ConfigProvider supplies the hot-reloadable pipeline configuration.
type ConfigProvider interface {
	GetConfig(ctx context.Context) (settings.PipelineConfig, error)
}

// Client issues versioned, keyed requests to the external ERP API. All
// public methods await the readiness barrier, so no request fires before
// configuration has loaded once.
type Client struct {
	provider   ConfigProvider
	httpClient *http.Client
	logger     *logger.Logger

	chunkDelay time.Duration
	retryBase  time.Duration

	mu    sync.Mutex
	ready *readyState
}

// readyState is one generation of the readiness barrier. The error is
// written before done is closed, so every waiter of the generation observes
// the same outcome.
type readyState struct {
	done chan struct{}
	err  error
}

func NewClient(provider ConfigProvider, log *logger.Logger) *Client {
	return &Client{
		provider: provider,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		logger:     log,
		chunkDelay: chunkDelay,
		retryBase:  retryBase,
	}
}

// EnsureReady blocks until the first configuration load has completed. A
// failed load is reported to every waiter of that attempt and re-arms the
// barrier so the next caller retries.
func (c *Client) EnsureReady(ctx context.Context) error {
	c.mu.Lock()
	state := c.ready
	if state == nil {
		state = &readyState{done: make(chan struct{})}
		c.ready = state
		go c.loadConfig(state)
	}
	c.mu.Unlock()

	select {
	case <-state.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if state.err != nil {
		c.mu.Lock()
		if c.ready == state {
			c.ready = nil
		}
		c.mu.Unlock()
		return state.err
	}
	return nil
}

func (c *Client) loadConfig(state *readyState) {
	defer close(state.done)

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	cfg, err := c.provider.GetConfig(ctx)
	if err != nil {
		state.err = fmt.Errorf("erp: configuration load failed: %w", err)
		return
	}
	if cfg.APIKey == "" {
		state.err = ErrNotConfigured
		return
	}
	c.logger.Debug("erp client ready, endpoint %s", cfg.EndpointURL)
}

// GetPricesForSKUs fetches goodprices rows for the given SKUs, one row per
// product per price tier. SKU lists are chunked; a transiently failed chunk
// is skipped and reported in the skipped list, while a credential or
// configuration failure aborts the whole fetch.
func (c *Client) GetPricesForSKUs(ctx context.Context, skus []string) ([]RawPriceRow, []string, error) {
	if err := c.EnsureReady(ctx); err != nil {
		return nil, nil, err
	}

	var result []RawPriceRow
	skipped, err := c.forEachChunk(ctx, "goodprices", skus, func(chunk []string) error {
		rows, err := c.requestRows(ctx, requestParams{
			From:   "goodprices",
			Fields: []string{"good", "sku", "parent", "pricetype", "price"},
			Filters: []Filter{
				{Alias: "sku", Operator: OpInList, Value: chunk},
			},
		})
		if err != nil {
			return err
		}
		for _, row := range rows {
			result = append(result, parsePriceRow(row))
		}
		return nil
	})
	return result, skipped, err
}

// GetCatalogForSKUs fetches goods rows for the given SKUs.
func (c *Client) GetCatalogForSKUs(ctx context.Context, skus []string) ([]RawCatalogRow, []string, error) {
	if err := c.EnsureReady(ctx); err != nil {
		return nil, nil, err
	}

	var result []RawCatalogRow
	skipped, err := c.forEachChunk(ctx, "goods", skus, func(chunk []string) error {
		rows, err := c.requestRows(ctx, requestParams{
			From:   "goods",
			Fields: []string{"id", "sku", "parent", "name"},
			Filters: []Filter{
				{Alias: "sku", Operator: OpInList, Value: chunk},
			},
		})
		if err != nil {
			return err
		}
		for _, row := range rows {
			result = append(result, parseCatalogRow(row))
		}
		return nil
	})
	return result, skipped, err
}

// GetObjectDetail fetches one catalog object, including its component table
// for composite (bundle) objects.
func (c *Client) GetObjectDetail(ctx context.Context, id string) (ObjectDetail, error) {
	if err := c.EnsureReady(ctx); err != nil {
		return ObjectDetail{}, err
	}

	raw, err := c.do(ctx, actionGetObject, getObjectParams{ID: id})
	if err != nil {
		return ObjectDetail{}, err
	}
	rows, err := normalizeRows(raw)
	if err != nil {
		return ObjectDetail{}, err
	}
	if len(rows) == 0 {
		return ObjectDetail{}, fmt.Errorf("%w: object %s", ErrNotFound, id)
	}
	return parseObjectDetail(rows[0]), nil
}

// GetStockBalance fetches per-warehouse quantities for the given SKUs.
func (c *Client) GetStockBalance(ctx context.Context, skus []string) ([]StockRow, []string, error) {
	if err := c.EnsureReady(ctx); err != nil {
		return nil, nil, err
	}

	var result []StockRow
	skipped, err := c.forEachChunk(ctx, "goodbalance", skus, func(chunk []string) error {
		rows, err := c.requestRows(ctx, requestParams{
			From:   "goodbalance",
			Fields: []string{"sku", "name", "store", "quantity"},
			Filters: []Filter{
				{Alias: "sku", Operator: OpInList, Value: chunk},
			},
		})
		if err != nil {
			return err
		}
		for _, row := range rows {
			result = append(result, parseStockRow(row))
		}
		return nil
	})
	return result, skipped, err
}

// SearchDocuments queries the remote document registry; used by the
// credential-scope diagnostic.
func (c *Client) SearchDocuments(ctx context.Context, docType string, limit int) ([]map[string]interface{}, error) {
	if err := c.EnsureReady(ctx); err != nil {
		return nil, err
	}

	return c.requestRows(ctx, requestParams{
		From:   "documents",
		Fields: []string{"id", "number", "date", "type"},
		Filters: []Filter{
			{Alias: "type", Operator: OpEquals, Value: docType},
		},
		Limit: limit,
	})
}

// Ping issues the smallest possible request; used by the connectivity
// diagnostic.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.EnsureReady(ctx); err != nil {
		return err
	}
	_, err := c.requestRows(ctx, requestParams{
		From:   "goods",
		Fields: []string{"id"},
		Limit:  1,
	})
	return err
}

// forEachChunk splits ids into chunks of 25 and runs fn sequentially with a
// pacing delay between chunks. Transient chunk failures are logged, skipped
// and reported back so one bad chunk does not abort the whole batch; a
// credential or configuration failure aborts immediately, since every later
// chunk would fail the same way.
func (c *Client) forEachChunk(ctx context.Context, what string, ids []string, fn func(chunk []string) error) ([]string, error) {
	var skipped []string
	for start := 0; start < len(ids); start += chunkSize {
		end := start + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		if start > 0 {
			select {
			case <-time.After(c.chunkDelay):
			case <-ctx.Done():
				return skipped, ctx.Err()
			}
		}
		if err := fn(ids[start:end]); err != nil {
			if errors.Is(err, ErrAuth) || errors.Is(err, ErrForbidden) || errors.Is(err, ErrNotConfigured) {
				return skipped, fmt.Errorf("erp: %s chunk %d-%d: %w", what, start, end, err)
			}
			c.logger.Error("erp: %s chunk %d-%d failed, skipping: %v", what, start, end, err)
			skipped = append(skipped, fmt.Sprintf("%s chunk %d-%d skipped: %v", what, start, end, err))
		}
	}
	return skipped, nil
}

func (c *Client) requestRows(ctx context.Context, params requestParams) ([]map[string]interface{}, error) {
	raw, err := c.do(ctx, actionRequest, params)
	if err != nil {
		return nil, err
	}
	return normalizeRows(raw)
}

// do sends one envelope, retrying in place with exponential backoff when
// the remote rejects concurrent access.
func (c *Client) do(ctx context.Context, action string, params interface{}) (json.RawMessage, error) {
	cfg, err := c.provider.GetConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("erp: configuration load failed: %w", err)
	}
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(envelope{
		Version: protocolVersion,
		Key:     cfg.APIKey,
		Action:  action,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("erp: failed to marshal request: %w", err)
	}

	delay := c.retryBase
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		raw, err := c.send(ctx, cfg.EndpointURL, action, body)
		if err == nil {
			metrics.ERPRequestsTotal.WithLabelValues(action, "ok").Inc()
			return raw, nil
		}
		lastErr = err
		if !errors.Is(err, ErrRateLimited) {
			metrics.ERPRequestsTotal.WithLabelValues(action, "error").Inc()
			return nil, err
		}
		metrics.ERPRequestsTotal.WithLabelValues(action, "rate_limited").Inc()
		if attempt == maxAttempts {
			break
		}
		c.logger.Warn("erp: rate limited on %s, retrying in %s (attempt %d/%d)", action, delay, attempt, maxAttempts)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay *= 2
		if delay > retryCeiling {
			delay = retryCeiling
		}
	}
	return nil, lastErr
}

func (c *Client) send(ctx context.Context, endpoint, action string, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("erp: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: action %s: %v", ErrNetwork, action, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: action %s: %v", ErrNetwork, action, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(action, resp.StatusCode, string(respBody))
	}
	if err := remoteError(action, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// remoteError catches error payloads delivered with HTTP 200.
func remoteError(action string, body []byte) error {
	var probe struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &probe); err != nil || probe.Error == "" {
		return nil
	}
	if isRateLimitBody(probe.Error) {
		return fmt.Errorf("%w: action %s: %s", ErrRateLimited, action, probe.Error)
	}
	return fmt.Errorf("erp: action %s: remote error: %s", action, probe.Error)
}
