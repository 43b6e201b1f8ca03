package provisioninfra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/relaydata/stripebridge/pkg/logx"
	"github.com/relaydata/stripebridge/pkg/provision"
)

// UpstreamError is a non-2xx response from the control plane. The body is
// kept for classification but truncated and sanitized before it appears in
// any message.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("control plane returned %d: %s", e.Status, provision.Sanitize(body))
}

// IsAuth reports whether the control plane rejected our credentials, which
// the FSM treats as non-retriable.
func (e *UpstreamError) IsAuth() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// SupabaseClient implements provision.ControlPlane against the Supabase
// management API.
type SupabaseClient struct {
	httpClient     *http.Client
	apiBase        string
	accessToken    string
	organizationID string
}

type SupabaseClientOption func(*SupabaseClient)

func WithSupabaseHTTPClient(c *http.Client) SupabaseClientOption {
	return func(s *SupabaseClient) { s.httpClient = c }
}

func NewSupabaseClient(apiBase, accessToken, organizationID string, opts ...SupabaseClientOption) provision.ControlPlane {
	c := &SupabaseClient{
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		apiBase:        strings.TrimRight(apiBase, "/"),
		accessToken:    accessToken,
		organizationID: organizationID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *SupabaseClient) CreateProject(ctx context.Context, name, password, region string) (string, error) {
	payload := map[string]string{
		"name":            name,
		"organization_id": c.organizationID,
		"db_pass":         password,
		"region":          region,
	}

	var out struct {
		ID  string `json:"id"`
		Ref string `json:"ref"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/projects", payload, &out); err != nil {
		return "", err
	}

	ref := out.Ref
	if ref == "" {
		ref = out.ID
	}
	if ref == "" {
		return "", &UpstreamError{Status: http.StatusOK, Body: "project response missing ref"}
	}
	logx.WithField("project_ref", ref).Info("control plane project created")
	return ref, nil
}

func (c *SupabaseClient) RunQuery(ctx context.Context, projectRef, query string) ([]map[string]any, error) {
	payload := map[string]string{"query": query}
	var rows []map[string]any
	if err := c.do(ctx, http.MethodPost, "/v1/projects/"+projectRef+"/database/query", payload, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *SupabaseClient) DeleteProject(ctx context.Context, projectRef string) error {
	return c.do(ctx, http.MethodDelete, "/v1/projects/"+projectRef, nil, nil)
}

// do performs one control-plane call. Request payloads may carry the
// database password, so bodies are never logged.
func (c *SupabaseClient) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("control plane request encode: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, body)
	if err != nil {
		return fmt.Errorf("control plane request build: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("control plane request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("control plane response read: %w", err)
	}

	logx.WithFields(logx.Fields{
		"method": method,
		"path":   path,
		"status": resp.StatusCode,
	}).Debug("control plane call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &UpstreamError{Status: resp.StatusCode, Body: string(respBody)}
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &UpstreamError{Status: resp.StatusCode, Body: "undecodable response body"}
		}
	}
	return nil
}
