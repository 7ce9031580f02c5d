package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultHistoryPageSize = 100

var (
	// ErrHistoryNotFound indicates the conversation does not exist.
	ErrHistoryNotFound = errors.New("transport: conversation not found")
	// ErrHistoryForbidden indicates the caller may not read the conversation.
	ErrHistoryForbidden = errors.New("transport: conversation access forbidden")
)

// HistoryPage is one page of a paginated history response.
type HistoryPage struct {
	Messages []WireMessage `json:"messages"`
	HasMore  bool          `json:"has_more"`
}

// HistoryClient fetches conversation history over HTTP.
type HistoryClient struct {
	baseURL  string
	client   *http.Client
	pageSize int
}

// NewHistoryClient creates a history client for the given API base URL.
func NewHistoryClient(baseURL string) (*HistoryClient, error) {
	if baseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse history base URL: %w", err)
	}

	return &HistoryClient{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: 30 * time.Second},
		pageSize: defaultHistoryPageSize,
	}, nil
}

// FetchPage requests one page of conversation history. Failures are
// typed: not-found and forbidden map to sentinel errors, everything
// else is a wrapped network error the caller may retry.
func (h *HistoryClient) FetchPage(ctx context.Context, conversationID string, limit, offset int) (*HistoryPage, error) {
	if conversationID == "" {
		return nil, errors.New("conversation_id is required")
	}
	if limit <= 0 {
		limit = h.pageSize
	}
	if offset < 0 {
		offset = 0
	}

	endpoint := fmt.Sprintf(
		"%s/conversations/%s/messages?limit=%s&offset=%s",
		h.baseURL,
		url.PathEscape(conversationID),
		strconv.Itoa(limit),
		strconv.Itoa(offset),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build history request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch history for %q: %w", conversationID, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("fetch history for %q: %w", conversationID, ErrHistoryNotFound)
	case http.StatusForbidden, http.StatusUnauthorized:
		return nil, fmt.Errorf("fetch history for %q: %w", conversationID, ErrHistoryForbidden)
	default:
		return nil, fmt.Errorf("fetch history for %q: unexpected status %d", conversationID, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMessageSize))
	if err != nil {
		return nil, fmt.Errorf("read history response: %w", err)
	}

	var page HistoryPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("parse history response: %w", err)
	}

	return &page, nil
}
