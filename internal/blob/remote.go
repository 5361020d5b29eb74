package blob

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

// RemoteStore talks to an external blob service over HTTP/JSON.
// Every call carries a bounded timeout; a timeout is surfaced as ErrTimeout
// (unknown state), distinct from an explicit error response.
type RemoteStore struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

var _ Store = (*RemoteStore)(nil)

// NewRemote creates a client for the blob service at baseURL.
func NewRemote(baseURL string, timeout time.Duration) *RemoteStore {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &RemoteStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

type putResponse struct {
	Locator string `json:"locator"`
}

type hashResponse struct {
	Digest string `json:"digest"`
}

func (s *RemoteStore) Put(ctx context.Context, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/blobs", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("blob: put failed: status %d", resp.StatusCode)
	}
	var out putResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("blob: decode put response: %w", err)
	}
	if out.Locator == "" {
		return "", errors.New("blob: empty locator in response")
	}
	return out.Locator, nil
}

func (s *RemoteStore) HashOf(ctx context.Context, locator string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	u := s.baseURL + "/blobs/" + url.PathEscape(locator) + "/hash"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", classify(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", fmt.Errorf("%s: %w", locator, ErrNotFound)
	default:
		return "", fmt.Errorf("blob: hash lookup failed: status %d", resp.StatusCode)
	}
	var out hashResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("blob: decode hash response: %w", err)
	}
	return out.Digest, nil
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
