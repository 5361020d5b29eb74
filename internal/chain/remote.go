package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultCallTimeout = 10 * time.Second

// RemoteLedger talks to an external ledger node over HTTP/JSON. Hot and cold
// chains are two RemoteLedger instances pointed at different nodes.
type RemoteLedger struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

var _ Ledger = (*RemoteLedger)(nil)

// NewRemote creates a client for the ledger node at baseURL.
func NewRemote(baseURL string, timeout time.Duration) *RemoteLedger {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &RemoteLedger{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

type appendRequest struct {
	InvestigationID string `json:"investigation_id"`
	Digest          string `json:"digest"`
	Meta            Meta   `json:"meta,omitempty"`
}

type txResponse struct {
	Ref         string    `json:"ref"`
	BlockNumber uint64    `json:"block_number"`
	Digest      string    `json:"digest"`
	Timestamp   time.Time `json:"timestamp"`
}

func (l *RemoteLedger) Append(ctx context.Context, investigationID, digest string, meta Meta) (Tx, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	body, err := json.Marshal(appendRequest{
		InvestigationID: investigationID,
		Digest:          digest,
		Meta:            meta,
	})
	if err != nil {
		return Tx{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/transactions", bytes.NewReader(body))
	if err != nil {
		return Tx{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return Tx{}, classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Tx{}, fmt.Errorf("chain: append failed: status %d", resp.StatusCode)
	}
	return decodeTx(resp)
}

func (l *RemoteLedger) Get(ctx context.Context, ref string) (Tx, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	u := l.baseURL + "/transactions/" + url.PathEscape(ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Tx{}, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return Tx{}, classify(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return Tx{}, fmt.Errorf("%s: %w", ref, ErrNotFound)
	default:
		return Tx{}, fmt.Errorf("chain: get failed: status %d", resp.StatusCode)
	}
	return decodeTx(resp)
}

func decodeTx(resp *http.Response) (Tx, error) {
	var out txResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Tx{}, fmt.Errorf("chain: decode response: %w", err)
	}
	if out.Ref == "" {
		return Tx{}, errors.New("chain: empty transaction ref in response")
	}
	return Tx{Ref: out.Ref, BlockNumber: out.BlockNumber, Digest: out.Digest, Timestamp: out.Timestamp}, nil
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	return err
}
