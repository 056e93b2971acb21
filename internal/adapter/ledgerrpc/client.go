// Package ledgerrpc provides an HTTP client for the escrow ledger relayer
// gateway. The gateway owns signing and submits transactions on the
// arbiter's behalf; this client only speaks its JSON API.
package ledgerrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/dispute"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/payment"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/ledger"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/resilience"
)

// maxResponseBytes bounds gateway responses.
const maxResponseBytes = 8 << 20

// Client talks to the ledger relayer gateway.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

var _ ledger.Ledger = (*Client)(nil)

// NewClient creates a new gateway client.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

type txResponse struct {
	TxHash string `json:"txHash"`
}

// GetAllEvidence returns every evidence entry for the dispute in ledger order.
func (c *Client) GetAllEvidence(ctx context.Context, key dispute.Key) ([]dispute.EvidenceEntry, error) {
	var resp struct {
		Entries []wireEvidence `json:"entries"`
	}
	if err := c.getJSON(ctx, "/disputes/"+key.String()+"/evidence", &resp); err != nil {
		return nil, fmt.Errorf("get evidence %s: %w", key, err)
	}
	out := make([]dispute.EvidenceEntry, len(resp.Entries))
	for i, e := range resp.Entries {
		out[i] = e.toDomain()
	}
	return out, nil
}

// SubmitEvidence appends content as arbiter evidence.
func (c *Client) SubmitEvidence(ctx context.Context, key dispute.Key, content string) (string, error) {
	tx, err := c.postTx(ctx, "/disputes/"+key.String()+"/evidence", map[string]string{"cid": content})
	if err != nil {
		return "", fmt.Errorf("submit evidence %s: %w", key, err)
	}
	return tx, nil
}

// Approve rules in favour of the payer.
func (c *Client) Approve(ctx context.Context, key dispute.Key) (string, error) {
	tx, err := c.postTx(ctx, "/disputes/"+key.String()+"/approve", nil)
	if err != nil {
		return "", fmt.Errorf("approve %s: %w", key, err)
	}
	return tx, nil
}

// Deny rules in favour of the receiver.
func (c *Client) Deny(ctx context.Context, key dispute.Key) (string, error) {
	tx, err := c.postTx(ctx, "/disputes/"+key.String()+"/deny", nil)
	if err != nil {
		return "", fmt.Errorf("deny %s: %w", key, err)
	}
	return tx, nil
}

// ExecuteRefund moves escrowed funds back to the payer.
func (c *Client) ExecuteRefund(ctx context.Context, info payment.Info) (string, error) {
	tx, err := c.postTx(ctx, "/payments/"+payment.NormalizeHash(info.Hash)+"/refund", info)
	if err != nil {
		return "", fmt.Errorf("execute refund %s: %w", info.Hash, err)
	}
	return tx, nil
}

// GetStatus reads the dispute's lifecycle state.
func (c *Client) GetStatus(ctx context.Context, key dispute.Key) (dispute.Status, error) {
	var resp struct {
		Status wireStatus `json:"status"`
	}
	if err := c.getJSON(ctx, "/disputes/"+key.String()+"/status", &resp); err != nil {
		return "", fmt.Errorf("get status %s: %w", key, err)
	}
	return dispute.Status(resp.Status), nil
}

// ListRecentDisputeKeys lists disputes opened within r.
func (c *Client) ListRecentDisputeKeys(ctx context.Context, r ledger.BlockRange) ([]dispute.Key, error) {
	q := url.Values{}
	q.Set("fromBlock", strconv.FormatUint(r.From, 10))
	q.Set("toBlock", strconv.FormatUint(r.To, 10))

	var resp struct {
		Keys []string `json:"keys"`
	}
	if err := c.getJSON(ctx, "/disputes?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("list disputes %d..%d: %w", r.From, r.To, err)
	}
	out := make([]dispute.Key, 0, len(resp.Keys))
	for _, k := range resp.Keys {
		key, err := dispute.ParseKey(k)
		if err != nil {
			return nil, fmt.Errorf("list disputes: %w", err)
		}
		out = append(out, key)
	}
	return out, nil
}

// LatestBlock returns the current chain head.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	var resp struct {
		Number uint64 `json:"number"`
	}
	if err := c.getJSON(ctx, "/blocks/latest", &resp); err != nil {
		return 0, fmt.Errorf("latest block: %w", err)
	}
	return resp.Number, nil
}

// GetDispute reads the dispute record.
func (c *Client) GetDispute(ctx context.Context, key dispute.Key) (*dispute.Dispute, error) {
	var w struct {
		Key             string     `json:"key"`
		PaymentInfoHash string     `json:"paymentInfoHash"`
		Nonce           uint64     `json:"nonce"`
		Status          wireStatus `json:"status"`
		RequestedAt     int64      `json:"requestedAt"`
	}
	if err := c.getJSON(ctx, "/disputes/"+key.String(), &w); err != nil {
		return nil, fmt.Errorf("get dispute %s: %w", key, err)
	}
	d := &dispute.Dispute{
		Key:             key,
		PaymentInfoHash: w.PaymentInfoHash,
		Nonce:           w.Nonce,
		Status:          dispute.Status(w.Status),
	}
	if w.RequestedAt > 0 {
		d.RequestedAt = time.Unix(w.RequestedAt, 0).UTC()
	}
	return d, nil
}

// GetPaymentInfo reads the payment record behind a payment info hash.
func (c *Client) GetPaymentInfo(ctx context.Context, paymentInfoHash string) (*payment.Info, error) {
	var info payment.Info
	if err := c.getJSON(ctx, "/payments/"+payment.NormalizeHash(paymentInfoHash), &info); err != nil {
		return nil, fmt.Errorf("get payment %s: %w", paymentInfoHash, err)
	}
	if info.Hash == "" {
		info.Hash = payment.NormalizeHash(paymentInfoHash)
	}
	return &info, nil
}

// Health checks if the gateway is reachable.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, "/health", nil)
	return err
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	data, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return domain.Wrap(domain.KindTransient, "decode gateway response", err)
	}
	return nil
}

func (c *Client) postTx(ctx context.Context, path string, payload any) (string, error) {
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("marshal request: %w", err)
		}
		body = b
	}
	data, err := c.doRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return "", err
	}
	var tx txResponse
	if err := json.Unmarshal(data, &tx); err != nil {
		return "", domain.Wrap(domain.KindTransient, "decode transaction response", err)
	}
	return tx.TxHash, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return resilience.Permanent(fmt.Errorf("create request: %w", err))
		}

		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return domain.Wrap(domain.KindTransient, "ledger gateway request", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return domain.Wrap(domain.KindTransient, "read ledger gateway response", err)
		}

		if err := classifyStatus(resp.StatusCode, data); err != nil {
			return err
		}

		result = data
		return nil
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(call)
	} else {
		err = call()
		var perm *resilience.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, domain.Wrap(domain.KindTransient, "ledger gateway unavailable", err)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// classifyStatus maps gateway HTTP status codes onto the error taxonomy.
// Only 429 and 5xx count towards the breaker.
func classifyStatus(code int, body []byte) error {
	switch {
	case code < 400:
		return nil
	case code == http.StatusConflict:
		return resilience.Permanent(fmt.Errorf("%w: %s", domain.ErrConflict, truncate(body)))
	case code == http.StatusNotFound:
		return resilience.Permanent(fmt.Errorf("%w: %s", domain.ErrNotFound, truncate(body)))
	case code == http.StatusTooManyRequests || code >= 500:
		return domain.Errorf(domain.KindTransient, "ledger gateway error %d: %s", code, truncate(body))
	default:
		return resilience.Permanent(domain.Errorf(domain.KindInvalidInput, "ledger gateway rejected request %d: %s", code, truncate(body)))
	}
}

func truncate(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
