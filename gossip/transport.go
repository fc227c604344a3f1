// Package gossip implements the wire protocol of spec.md §4.3: a client
// that pulls events from selected peers and a server that answers pulls,
// notifies, and bounded hash lookups, layered over a pluggable Transport.
package gossip

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tolelom/continuity/ledgererr"
)

// Transport is the client-side half of the gossip wire protocol. The
// default implementation is HTTPTransport; anything satisfying this
// interface can stand in for it in tests.
type Transport interface {
	Pull(ctx context.Context, addr string, req PullRequest) (*PullResponse, error)
	Notify(ctx context.Context, addr string, req NotifyRequest) error
	GetEvents(ctx context.Context, addr string, req GetEventsRequest) (*GetEventsResponse, error)
}

// HTTPTransport is the default Transport: JSON bodies over net/http,
// optionally over mTLS (see crypto/certgen for certificate generation).
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport builds an HTTPTransport. tlsConfig may be nil for
// plaintext HTTP (development/tests only).
func NewHTTPTransport(tlsConfig *tls.Config) *HTTPTransport {
	transport := &http.Transport{TLSClientConfig: tlsConfig}
	return &HTTPTransport{
		client: &http.Client{
			Transport: transport,
			Timeout:   15 * time.Second,
		},
	}
}

func (t *HTTPTransport) Pull(ctx context.Context, addr string, req PullRequest) (*PullResponse, error) {
	var resp PullResponse
	if err := t.post(ctx, addr+"/gossip/pull", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *HTTPTransport) Notify(ctx context.Context, addr string, req NotifyRequest) error {
	return t.post(ctx, addr+"/gossip/notify", req, nil)
}

func (t *HTTPTransport) GetEvents(ctx context.Context, addr string, req GetEventsRequest) (*GetEventsResponse, error) {
	var resp GetEventsResponse
	if err := t.post(ctx, addr+"/gossip/events", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *HTTPTransport) post(ctx context.Context, url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("gossip: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("gossip: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return ledgererr.NetworkFailure(ledgererr.NetworkDetail{Address: url}, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusNotFound {
		return ledgererr.NetworkFailure(ledgererr.NetworkDetail{Address: url, HTTPStatusCode: http.StatusNotFound}, fmt.Errorf("ledger not found at %s", url))
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		var wireErr wireError
		_ = json.NewDecoder(httpResp.Body).Decode(&wireErr)
		return mapWireError(url, httpResp.StatusCode, wireErr)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("gossip: decode response: %w", err)
	}
	return nil
}

func mapWireError(addr string, status int, wireErr wireError) error {
	switch ledgererr.Kind(wireErr.Kind) {
	case ledgererr.KindNotFound:
		return ledgererr.New(ledgererr.KindNotFound, wireErr.Message)
	case ledgererr.KindValidation, ledgererr.KindProtocolViolation:
		return ledgererr.New(ledgererr.KindProtocolViolation, wireErr.Message)
	default:
		return ledgererr.NetworkFailure(ledgererr.NetworkDetail{Address: addr, HTTPStatusCode: status}, fmt.Errorf("%s", wireErr.Message))
	}
}
