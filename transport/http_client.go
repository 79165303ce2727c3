package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hashledger/hashledger/apperr"
	"github.com/hashledger/hashledger/chain"
)

// HTTPClient implements PullTransport against the JSON/HTTP REST surface:
// a base URL, a configurable *http.Client, and one request helper every
// method funnels through.
type HTTPClient struct {
	BaseURL   string
	Client    *http.Client
	AuthToken AuthTokenProvider
}

// NewHTTPClient builds an HTTPClient with the default *http.Client.
func NewHTTPClient(baseURL string, authToken AuthTokenProvider) *HTTPClient {
	return &HTTPClient{BaseURL: baseURL, Client: &http.Client{}, AuthToken: authToken}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return apperr.Wrap(400, apperr.CodeInvalidJSON, "failed to encode request body", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return apperr.Wrap(500, apperr.CodeInvalidResponse, "failed to build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.AuthToken != nil {
		token, err := c.AuthToken(ctx)
		if err != nil {
			return apperr.Wrap(401, apperr.CodeNotConfigured, "failed to mint auth token", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return apperr.Wrap(0, apperr.CodeTimeout, "request failed", err).Retry()
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Wrap(resp.StatusCode, apperr.CodeInvalidResponse, "failed to read response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ae := apperr.New(resp.StatusCode, apperr.CodeHTTPStatus, fmt.Sprintf("server returned %d: %s", resp.StatusCode, string(respBody)))
		if resp.StatusCode >= 500 {
			ae = ae.Retry()
		}
		return ae
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return apperr.Wrap(502, apperr.CodeInvalidResponse, "failed to decode response body", err)
	}
	return nil
}

func (c *HTTPClient) PersonalHead(ctx context.Context, db string) (*chain.PersonalEntry, error) {
	var out HeadResponse
	if err := c.do(ctx, http.MethodGet, "/self/logs/"+url.PathEscape(db)+"/head", nil, &out); err != nil {
		return nil, err
	}
	return out.Head, nil
}

func (c *HTTPClient) PersonalList(ctx context.Context, db string, startIndex int64, limit int) ([]chain.PersonalEntry, bool, error) {
	path := fmt.Sprintf("/self/logs/%s?startIndex=%s&limit=%s", url.PathEscape(db), strconv.FormatInt(startIndex, 10), strconv.Itoa(limit))
	var out ListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, false, err
	}
	return out.Logs, out.HasMore, nil
}

func (c *HTTPClient) PersonalAt(ctx context.Context, db string, index int64) (*chain.PersonalEntry, error) {
	path := fmt.Sprintf("/self/logs/%s/%s", url.PathEscape(db), strconv.FormatInt(index, 10))
	var out chain.PersonalEntry
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) AppendPersonal(ctx context.Context, db string, entry chain.PersonalEntry) (*chain.PersonalEntry, error) {
	var out chain.PersonalEntry
	if err := c.do(ctx, http.MethodPost, "/self/logs/"+url.PathEscape(db), AppendChainLogRequest{Entry: entry}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) GroupHead(ctx context.Context, groupID, db string) (*chain.GroupEntry, error) {
	path := fmt.Sprintf("/groups/%s/logs/%s/head", url.PathEscape(groupID), url.PathEscape(db))
	var out GroupHeadResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Head, nil
}

func (c *HTTPClient) GroupList(ctx context.Context, groupID, db string, startIndex int64, limit int) ([]chain.GroupEntry, bool, error) {
	path := fmt.Sprintf("/groups/%s/logs/%s?startIndex=%s&limit=%s",
		url.PathEscape(groupID), url.PathEscape(db), strconv.FormatInt(startIndex, 10), strconv.Itoa(limit))
	var out GroupListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, false, err
	}
	return out.Logs, out.HasMore, nil
}

func (c *HTTPClient) GroupAt(ctx context.Context, groupID, db string, index int64) (*chain.GroupEntry, error) {
	path := fmt.Sprintf("/groups/%s/logs/%s/%s", url.PathEscape(groupID), url.PathEscape(db), strconv.FormatInt(index, 10))
	var out chain.GroupEntry
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) AppendGroup(ctx context.Context, groupID, db string, entry chain.GroupEntry) (*chain.GroupEntry, error) {
	path := fmt.Sprintf("/groups/%s/logs/%s", url.PathEscape(groupID), url.PathEscape(db))
	var out chain.GroupEntry
	if err := c.do(ctx, http.MethodPost, path, AppendGroupChainLogRequest{Entry: entry}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) CreateGroup(ctx context.Context, req CreateGroupRequest) error {
	return c.do(ctx, http.MethodPost, "/groups", req, nil)
}
