package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds every outbound provider call
const DefaultTimeout = 15 * time.Second

// NewHTTPClient returns the client adapters use for provider calls
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// postJSON posts payload and decodes a JSON response into out. Any error
// returned here is a transport or decoding problem.
func postJSON(ctx context.Context, client *http.Client, endpoint string, headers http.Header, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return do(client, req, out)
}

func postForm(ctx context.Context, client *http.Client, endpoint string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return do(client, req, out)
}

func do(client *http.Client, req *http.Request, out interface{}) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	b, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return &responseError{status: resp.StatusCode, err: err}
	}
	return nil
}

// responseError marks a reply that arrived but could not be decoded
type responseError struct {
	status int
	err    error
}

func (e *responseError) Error() string {
	return fmt.Sprintf("unexpected provider response (http %d): %v", e.status, e.err)
}

// transportFailure converts a postJSON/postForm error into a failure result
func transportFailure(provider string, err error) PaymentResult {
	if _, ok := err.(*responseError); ok {
		return failure(provider, CodeInvalidResponse, err.Error())
	}
	return failure(provider, CodeNetworkError, err.Error())
}

func transportRefundFailure(err error) RefundResult {
	if _, ok := err.(*responseError); ok {
		return refundFailure(CodeInvalidResponse, err.Error())
	}
	return refundFailure(CodeNetworkError, err.Error())
}
