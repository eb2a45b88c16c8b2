package kintoclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type ResponseWrapper[T any] struct {
	Data T `json:"data"`
}

type requestWrapper struct {
	Data any `json:"data"`
}

// doRequest sends one API call. path is relative to the configured host unless
// it is an absolute URL, as in Next-Page links. GET requests are retried.
func (c *Client) doRequest(ctx context.Context, method, path string, body any, headers map[string]string, out any) (http.Header, error) {
	url := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		url = c.cfg.Host + path
	}

	var payload []byte
	if body != nil {
		b, err := json.Marshal(requestWrapper{Data: body})
		if err != nil {
			return nil, err
		}
		payload = b
	}

	var respHeader http.Header
	err := c.retry.Do(ctx, method == http.MethodGet, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return c.breaker.Execute(func() error {
			h, err := c.send(ctx, method, url, payload, headers, out)
			respHeader = h
			return err
		})
	})
	return respHeader, err
}

func (c *Client) send(ctx context.Context, method, url string, payload []byte, headers map[string]string, out any) (http.Header, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, err
	}

	if c.cfg.User != "" {
		req.SetBasicAuth(c.cfg.User, c.cfg.Pass)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp.Header, fmt.Errorf("kinto api error: %s (failed to read body: %v)", resp.Status, err)
		}
		apiErr := &APIError{}
		if jsonErr := json.Unmarshal(bodyBytes, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(bodyBytes))
		}
		apiErr.Status = resp.StatusCode
		return resp.Header, apiErr
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.Header, fmt.Errorf("decode kinto response: %w", err)
		}
	}

	return resp.Header, nil
}
