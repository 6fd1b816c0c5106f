package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if _, err := c.do(ctx, http.MethodGet, "/v1/health", nil, nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// SendEvent posts a raw event document.
func (c *Client) SendEvent(ctx context.Context, event []byte) (*IngestResult, error) {
	var res IngestResult
	if _, err := c.do(ctx, http.MethodPost, "/v1/events", nil, event, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

type ListOptions struct {
	Status   string
	TenantID string
	Limit    int
	Offset   int
}

func (o ListOptions) values() url.Values {
	q := url.Values{}
	if o.Status != "" {
		q.Set("status", o.Status)
	}
	if o.TenantID != "" {
		q.Set("tenant_id", o.TenantID)
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		q.Set("offset", strconv.Itoa(o.Offset))
	}
	return q
}

func (c *Client) ListExceptions(ctx context.Context, opts ListOptions) (*ExceptionList, error) {
	var list ExceptionList
	if _, err := c.do(ctx, http.MethodGet, "/v1/exceptions", opts.values(), nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *Client) GetException(ctx context.Context, id string) (*ExceptionDetail, error) {
	var d ExceptionDetail
	if _, err := c.do(ctx, http.MethodGet, "/v1/exceptions/"+url.PathEscape(id), nil, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) Resolve(ctx context.Context, id string, req ResolveRequest) (Exception, error) {
	var e Exception
	if _, err := c.do(ctx, http.MethodPost, "/v1/exceptions/"+url.PathEscape(id)+"/resolve", nil, req, &e); err != nil {
		return nil, err
	}
	return e, nil
}

func (c *Client) Assign(ctx context.Context, id, assignee, actor string) (Exception, error) {
	body := map[string]string{"assignee": assignee, "actor": actor}
	var e Exception
	if _, err := c.do(ctx, http.MethodPost, "/v1/exceptions/"+url.PathEscape(id)+"/assign", nil, body, &e); err != nil {
		return nil, err
	}
	return e, nil
}

func (c *Client) ListAudit(ctx context.Context, objectType, objectID string, limit int) ([]AuditEntry, error) {
	q := url.Values{}
	if objectType != "" {
		q.Set("object_type", objectType)
	}
	if objectID != "" {
		q.Set("object_id", objectID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var body struct {
		Entries []AuditEntry `json:"entries"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/v1/audit", q, nil, &body); err != nil {
		return nil, err
	}
	return body.Entries, nil
}

func (c *Client) GetLedger(ctx context.Context, tenantID, key string) (map[string]interface{}, error) {
	var st map[string]interface{}
	path := "/v1/ledger/" + url.PathEscape(tenantID) + "/" + url.PathEscape(key)
	if _, err := c.do(ctx, http.MethodGet, path, nil, nil, &st); err != nil {
		return nil, err
	}
	return st, nil
}

func (c *Client) TenantStats(ctx context.Context, tenantID string) (map[string]interface{}, error) {
	var stats map[string]interface{}
	if _, err := c.do(ctx, http.MethodGet, "/v1/tenants/"+url.PathEscape(tenantID)+"/stats", nil, nil, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

func (c *Client) DeadLetters(ctx context.Context, limit int) (*DeadLetters, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var dl DeadLetters
	if _, err := c.do(ctx, http.MethodGet, "/v1/dead-letters", q, nil, &dl); err != nil {
		return nil, err
	}
	return &dl, nil
}
