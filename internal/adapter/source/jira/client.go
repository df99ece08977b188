package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is a minimal Jira REST client covering the two calls the pipeline
// needs: single-issue detail for the webhook path and paginated search for
// the backfill driver.
type Client struct {
	baseURL  string
	username string
	token    string
	httpc    *http.Client
	logger   *slog.Logger
}

// NewClient creates a Jira client authenticated with HTTP basic auth.
func NewClient(baseURL, username, token string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:  baseURL,
		username: username,
		token:    token,
		httpc:    &http.Client{Timeout: 15 * time.Second},
		logger:   logger.With("component", "jira_client"),
	}
}

// IssueDetail fetches the full JSON document for one issue. Webhook payloads
// are thin, so the pipeline always works from the full document.
func (c *Client) IssueDetail(ctx context.Context, id string) ([]byte, error) {
	endpoint := c.baseURL + "/rest/api/2/issue/" + url.PathEscape(id)
	return c.get(ctx, endpoint)
}

// SearchPage returns the issue IDs of one search result page, newest first.
// A page shorter than pageSize marks the end of the set.
func (c *Client) SearchPage(ctx context.Context, startAt, pageSize int) ([]string, error) {
	q := url.Values{}
	q.Set("jql", "ORDER BY created DESC")
	q.Set("startAt", strconv.Itoa(startAt))
	q.Set("maxResults", strconv.Itoa(pageSize))

	body, err := c.get(ctx, c.baseURL+"/rest/api/2/search?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var page struct {
		Issues []struct {
			ID string `json:"id"`
		} `json:"issues"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decode search page at %d: %w", startAt, err)
	}

	ids := make([]string, 0, len(page.Issues))
	for _, issue := range page.Issues {
		ids = append(ids, issue.ID)
	}
	return ids, nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.username, c.token)
	req.Header.Set("Content-Type", "application/json")

	rsp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jira request failed: %w", err)
	}
	defer rsp.Body.Close()

	body, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, fmt.Errorf("read jira response: %w", err)
	}

	if rsp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jira returned %d for %s", rsp.StatusCode, endpoint)
	}
	return body, nil
}
