package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// HTTPClient reads threads from the archive's thread.lua API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPClient builds a client against baseURL, normally
// https://lists.apache.org.
func NewHTTPClient(baseURL string, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// threadResponse is the shape of the thread.lua API response, reduced to
// the fields the tabulator consumes.
type threadResponse struct {
	Emails []Message `json:"emails"`
}

func (c *HTTPClient) fetchThread(ctx context.Context, threadID string) (*threadResponse, error) {
	endpoint := fmt.Sprintf("%s/api/thread.lua?id=%s", c.baseURL, url.QueryEscape(threadID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build archive request: %w", err)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch thread %s: %w", threadID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("archive returned %d for thread %s", resp.StatusCode, threadID)
	}

	var thread threadResponse
	if err := json.NewDecoder(resp.Body).Decode(&thread); err != nil {
		return nil, fmt.Errorf("failed to decode thread %s: %w", threadID, err)
	}

	c.logger.Debug("fetched archive thread",
		zap.String("thread_id", threadID),
		zap.Int("messages", len(thread.Emails)),
		zap.Duration("elapsed", time.Since(start)))
	return &thread, nil
}

// Messages walks the messages of a thread in delivery order.
func (c *HTTPClient) Messages(ctx context.Context, threadID string, fn WalkFunc) error {
	thread, err := c.fetchThread(ctx, threadID)
	if err != nil {
		return err
	}
	for _, msg := range thread.Emails {
		cont, err := fn(msg)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// ThreadDetails returns the thread's list address and first message id.
func (c *HTTPClient) ThreadDetails(ctx context.Context, threadID string) (string, string, error) {
	thread, err := c.fetchThread(ctx, threadID)
	if err != nil {
		return "", "", err
	}
	for _, msg := range thread.Emails {
		if msg.ListRaw == "" {
			continue
		}
		return ListAddressFromList(msg.ListRaw), msg.MID, nil
	}
	return "", "", fmt.Errorf("thread %s has no messages with a list id", threadID)
}

var _ Client = (*HTTPClient)(nil)
