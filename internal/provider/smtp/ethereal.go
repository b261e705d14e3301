package smtp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// The disposable test relay. Test mode always connects here, whatever the
// account API reports.
const (
	testRelayHost = "smtp.ethereal.email"
	testRelayPort = 587
)

// TestAccount is a disposable SMTP account.
type TestAccount struct {
	User string
	Pass string
}

// TestAccountSource hands out disposable SMTP credentials.
type TestAccountSource interface {
	TestAccount(ctx context.Context) (*TestAccount, error)
}

// accountRequest is the body posted to the Ethereal account API.
type accountRequest struct {
	Requestor string `json:"requestor"`
	Version   string `json:"version"`
}

// accountResponse is the Ethereal account API response. Only the fields the
// relay login needs are decoded.
type accountResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	User   string `json:"user"`
	Pass   string `json:"pass"`
}

// EtherealClient creates throwaway accounts on ethereal.email.
type EtherealClient struct {
	url        string
	httpClient *http.Client
}

// NewEtherealClient returns a client for the account API at url.
func NewEtherealClient(url string) *EtherealClient {
	return &EtherealClient{
		url:        url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// TestAccount requests a new disposable account. Accounts are not cached:
// every call creates a fresh one.
func (e *EtherealClient) TestAccount(ctx context.Context) (*TestAccount, error) {
	bodyJSON, err := json.Marshal(accountRequest{Requestor: "mail-dispatcher", Version: "1.0.0"})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal account request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(bodyJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to request test account: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read test account response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("test account API error (HTTP %d): %s", resp.StatusCode, body)
	}

	var account accountResponse
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, fmt.Errorf("failed to parse test account response: %w", err)
	}
	if account.Status != "success" {
		return nil, fmt.Errorf("failed to create test account: %s", account.Error)
	}

	return &TestAccount{User: account.User, Pass: account.Pass}, nil
}
