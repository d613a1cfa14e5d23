// Package chainclient is the thin, stateless RPC binding to a single Tron
// full node. It never retries and never elects between endpoints — that
// is the Connection Manager's job one layer up.
//
// The request plumbing (SendJSONRequest, functional Option headers/query
// params) is carried over from the teacher's utils/rpc/json.go almost
// unchanged; the spec itself calls the Tron node's wire format
// "JSON-RPC", so the teacher's gorilla/rpc json2 client codec applies
// directly.
package chainclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	jsonrpc "github.com/gorilla/rpc/v2/json2"
)

// Option configures a single JSON-RPC call.
type Option func(*options)

type options struct {
	headers     http.Header
	queryParams url.Values
}

func newOptions(opts []Option) *options {
	o := &options{
		headers:     make(http.Header),
		queryParams: make(url.Values),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithHeader attaches a single header to the outbound request.
func WithHeader(key, value string) Option {
	return func(o *options) { o.headers.Set(key, value) }
}

func cleanlyCloseBody(body io.ReadCloser) error {
	if body == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, body)
	return body.Close()
}

// sendJSONRequest issues a JSON-RPC 2.0 call against uri and decodes the
// result into reply.
func sendJSONRequest(
	ctx context.Context,
	httpClient *http.Client,
	uri *url.URL,
	method string,
	params interface{},
	reply interface{},
	opts ...Option,
) error {
	bodyBytes, err := jsonrpc.EncodeClientRequest(method, params)
	if err != nil {
		return fmt.Errorf("chainclient: encode request: %w", err)
	}

	ops := newOptions(opts)
	u := *uri
	u.RawQuery = ops.queryParams.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewBuffer(bodyBytes))
	if err != nil {
		return fmt.Errorf("chainclient: build request: %w", err)
	}
	req.Header = ops.headers
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chainclient: do request: %w", err)
	}
	defer cleanlyCloseBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("chainclient: status %d from %s", resp.StatusCode, method)
	}

	if err := jsonrpc.DecodeClientResponse(resp.Body, reply); err != nil {
		return fmt.Errorf("chainclient: decode response: %w", err)
	}
	return nil
}
