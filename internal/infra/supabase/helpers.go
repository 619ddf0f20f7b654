package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// ============================================================
// HTTP plumbing shared by PostgREST and Storage calls
// ============================================================

// call describes one request to Supabase. label names the table or object
// path in logs and errors.
type call struct {
	method  string
	url     string
	label   string
	body    []byte
	headers map[string]string
}

func (c *Client) restURL(path string) string {
	return fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)
}

// send executes an authenticated request and returns the response body of
// a 2xx answer. Other answers become an *apiError via newAPIError.
func (c *Client) send(ctx context.Context, in call) ([]byte, error) {
	var body io.Reader
	if in.body != nil {
		body = bytes.NewReader(in.body)
	}
	req, err := http.NewRequestWithContext(ctx, in.method, in.url, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceRoleKey)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range in.headers {
		req.Header.Set(k, v)
	}

	log := c.logger.With(zap.String("method", in.method), zap.String("path", in.label))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error("supabase: request failed", zap.Error(err))
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error("supabase: failed to read response body", zap.Error(err))
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn("supabase: non-2xx response",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(respBody)),
		)
		return nil, newAPIError(in.method, in.label, resp.StatusCode, respBody)
	}

	log.Debug("supabase: request OK", zap.Int("status", resp.StatusCode))
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	return respBody, nil
}

// returnRows makes PostgREST answer writes with the affected rows, which is
// how conditional updates learn whether they matched.
var returnRows = map[string]string{"Prefer": "return=representation"}

func (c *Client) doRequest(ctx context.Context, method, path string) ([]byte, error) {
	return c.send(ctx, call{method: method, url: c.restURL(path), label: path})
}

func (c *Client) doPost(ctx context.Context, table string, data map[string]any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, call{method: http.MethodPost, url: c.restURL(table), label: table, body: payload, headers: returnRows})
}

func (c *Client) doPatch(ctx context.Context, path string, data map[string]any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, call{method: http.MethodPatch, url: c.restURL(path), label: path, body: payload, headers: returnRows})
}

func (c *Client) doDelete(ctx context.Context, path string) error {
	_, err := c.send(ctx, call{method: http.MethodDelete, url: c.restURL(path), label: path})
	return err
}

// doStorage sends a request to the Storage API with the service role key.
func (c *Client) doStorage(ctx context.Context, method, url string, body []byte, headers map[string]string) ([]byte, error) {
	if body == nil {
		body = []byte{}
	}
	return c.send(ctx, call{method: method, url: url, label: url, body: body, headers: headers})
}
