package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/zene/zenesync/internal/models"
	"github.com/zene/zenesync/internal/observability"
)

// HTTPClient implements Backend against the zenesync server's /api/tables endpoints
type HTTPClient struct {
	baseURL      string
	apiKey       string
	apiKeyHeader string
	client       *http.Client
}

// NewHTTPClient creates a client for the server at baseURL
func NewHTTPClient(baseURL, apiKey, apiKeyHeader string) *HTTPClient {
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	return &HTTPClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		apiKeyHeader: apiKeyHeader,
		client:       &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) Insert(ctx context.Context, table string, row models.Row) ([]models.Row, error) {
	return c.rows(ctx, http.MethodPost, table, nil, models.InsertRequest{Row: row})
}

func (c *HTTPClient) Upsert(ctx context.Context, table string, row models.Row, onConflict []string) ([]models.Row, error) {
	return c.rows(ctx, http.MethodPost, table, nil, models.InsertRequest{Row: row, OnConflict: onConflict})
}

func (c *HTTPClient) Update(ctx context.Context, table string, match map[string]any, changes models.Row) ([]models.Row, error) {
	return c.rows(ctx, http.MethodPatch, table, filters(match), changes)
}

func (c *HTTPClient) Delete(ctx context.Context, table string, match map[string]any) error {
	_, err := c.do(ctx, http.MethodDelete, table, filters(match), nil)
	return err
}

func (c *HTTPClient) Select(ctx context.Context, table string, q Query) ([]models.Row, error) {
	params := filters(q.Eq)
	if q.Order != "" {
		params.Set("order", q.Order)
	}
	return c.rows(ctx, http.MethodGet, table, params, nil)
}

func (c *HTTPClient) SelectSingle(ctx context.Context, table string, q Query) (models.Row, error) {
	params := filters(q.Eq)
	params.Set("single", "true")
	rows, err := c.rows(ctx, http.MethodGet, table, params, nil)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

func filters(eq map[string]any) url.Values {
	params := url.Values{}
	keys := make([]string, 0, len(eq))
	for k := range eq {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		params.Set(k, string(models.IDFromValue(eq[k])))
	}
	return params
}

func (c *HTTPClient) rows(ctx context.Context, method, table string, params url.Values, body any) ([]models.Row, error) {
	data, err := c.do(ctx, method, table, params, body)
	if err != nil {
		return nil, err
	}
	var resp models.RowsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", table, err)
	}
	if resp.Rows == nil {
		resp.Rows = []models.Row{}
	}
	return resp.Rows, nil
}

func (c *HTTPClient) do(ctx context.Context, method, table string, params url.Values, body any) ([]byte, error) {
	ctx, span := observability.StartSpan(ctx, fmt.Sprintf("remote.%s %s", strings.ToLower(method), table))
	defer span.End()

	endpoint := fmt.Sprintf("%s/api/tables/%s", c.baseURL, url.PathEscape(table))
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(c.apiKeyHeader, c.apiKey)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.client.Do(req)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		remoteErr := &Error{Status: resp.StatusCode, Message: errorMessage(data)}
		observability.RecordError(span, remoteErr)
		return nil, remoteErr
	}

	observability.SetSuccess(span)
	return data, nil
}

func errorMessage(body []byte) string {
	var e models.ErrorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}
