// Package client is a Go client for the Flux HTTP API.
//
// Besides typed calls for every endpoint it carries the two pieces of client
// behavior the web UI relies on: [Canvas], which applies item edits
// optimistically and resynchronizes from the server when one fails, and
// [Autosaver], which coalesces page edits into a single update.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	Status  int             `json:"-"`
	Code    string          `json:"code"`
	Message string          `json:"error"`
	Details json.RawMessage `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("flux api: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("flux api: %s (%d): %s", e.Code, e.Status, e.Message)
}

// IsStatus reports whether err is an *APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Client is safe for concurrent use once configured.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// New returns a client for baseURL, e.g. "http://localhost:8787". The token is
// sent as a bearer token on every request.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		token: token,
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, target any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := c.newRequest(ctx, method, path, query, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	return decodeResponse(resp, target)
}

func decodeResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return readAPIError(resp)
	}
	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	apiErr := &APIError{Status: resp.StatusCode}
	if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}
	return apiErr
}

func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/api/health", nil, nil, nil)
}

// Ready returns the readiness report. A not-ready server answers 503, which
// is reported as an *APIError.
func (c *Client) Ready(ctx context.Context) (Readiness, error) {
	var out Readiness
	err := c.doJSON(ctx, http.MethodGet, "/api/ready", nil, nil, &out)
	return out, err
}

func (c *Client) Session(ctx context.Context) (SessionInfo, error) {
	var out SessionInfo
	err := c.doJSON(ctx, http.MethodGet, "/api/session", nil, nil, &out)
	return out, err
}

func (c *Client) Logout(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/session/logout", nil, nil, nil)
}

// Workspaces

func (c *Client) ListWorkspaces(ctx context.Context, userID string) ([]Workspace, error) {
	var out struct {
		Workspaces []Workspace `json:"workspaces"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/workspaces", url.Values{"userId": {userID}}, nil, &out)
	return out.Workspaces, err
}

func (c *Client) CreateWorkspace(ctx context.Context, name string) (Workspace, error) {
	var out struct {
		Workspace Workspace `json:"workspace"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/workspaces", nil, map[string]string{"name": name}, &out)
	return out.Workspace, err
}

func (c *Client) DeleteWorkspace(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/workspaces", url.Values{"id": {id}}, nil, nil)
}

// Members

func (c *Client) ListMembers(ctx context.Context, workspaceID string) ([]Member, error) {
	var out struct {
		Members []Member `json:"members"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/invites", url.Values{"workspaceId": {workspaceID}}, nil, &out)
	return out.Members, err
}

// InviteMember adds the user registered under email. An empty role invites
// as member.
func (c *Client) InviteMember(ctx context.Context, workspaceID, email, role string) (Member, error) {
	var out struct {
		Member Member `json:"member"`
	}
	body := map[string]string{"workspaceId": workspaceID, "email": email}
	if role != "" {
		body["role"] = role
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/invites", nil, body, &out)
	return out.Member, err
}

func (c *Client) ChangeMemberRole(ctx context.Context, workspaceID, userID, role string) (Member, error) {
	var out struct {
		Member Member `json:"member"`
	}
	body := map[string]string{"workspaceId": workspaceID, "userId": userID, "role": role}
	err := c.doJSON(ctx, http.MethodPatch, "/api/invites", nil, body, &out)
	return out.Member, err
}

func (c *Client) RemoveMember(ctx context.Context, workspaceID, userID string) error {
	query := url.Values{"workspaceId": {workspaceID}, "userId": {userID}}
	return c.doJSON(ctx, http.MethodDelete, "/api/invites", query, nil, nil)
}

// Pages

func (c *Client) ListPages(ctx context.Context, workspaceID string, includeArchived bool) ([]*Page, error) {
	var out struct {
		Pages []*Page `json:"pages"`
	}
	query := url.Values{"workspaceId": {workspaceID}}
	if includeArchived {
		query.Set("includeArchived", "true")
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/pages", query, nil, &out)
	return out.Pages, err
}

func (c *Client) CreatePage(ctx context.Context, in PageInput) (Page, error) {
	var out struct {
		Page Page `json:"page"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/pages", nil, in, &out)
	return out.Page, err
}

func (c *Client) UpdatePage(ctx context.Context, update PageUpdate) (Page, error) {
	var out struct {
		Page Page `json:"page"`
	}
	err := c.doJSON(ctx, http.MethodPatch, "/api/pages", nil, update, &out)
	return out.Page, err
}

func (c *Client) ArchivePage(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/pages", url.Values{"id": {id}}, nil, nil)
}

func (c *Client) SearchPages(ctx context.Context, workspaceID, query string) (SearchResponse, error) {
	var out SearchResponse
	err := c.doJSON(ctx, http.MethodGet, "/api/pages/search", url.Values{"workspaceId": {workspaceID}, "query": {query}}, nil, &out)
	return out, err
}

func (c *Client) PageTemplates(ctx context.Context) ([]Template, error) {
	var out struct {
		Templates []Template `json:"templates"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/pages/templates", nil, nil, &out)
	return out.Templates, err
}

// PageHistory lists revisions newest first. limit <= 0 uses the server default.
func (c *Client) PageHistory(ctx context.Context, pageID string, limit int) ([]Revision, error) {
	var out struct {
		Revisions []Revision `json:"revisions"`
	}
	query := url.Values{"id": {pageID}}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/pages/history", query, nil, &out)
	return out.Revisions, err
}

func (c *Client) PageSnapshot(ctx context.Context, pageID, hash string) (Snapshot, error) {
	var out struct {
		Snapshot Snapshot `json:"snapshot"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/pages/history", url.Values{"id": {pageID}, "hash": {hash}}, nil, &out)
	return out.Snapshot, err
}

// ExportPage downloads the page as "md" or "pdf".
func (c *Client) ExportPage(ctx context.Context, pageID, format string) (Export, error) {
	query := url.Values{"id": {pageID}}
	if format != "" {
		query.Set("format", format)
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/api/pages/export", query, nil)
	if err != nil {
		return Export{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Export{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Export{}, readAPIError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Export{}, fmt.Errorf("failed to read export: %w", err)
	}
	return Export{
		Filename:    attachmentName(resp.Header.Get("Content-Disposition")),
		ContentType: resp.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func attachmentName(disposition string) string {
	const marker = "filename="
	idx := strings.Index(disposition, marker)
	if idx < 0 {
		return ""
	}
	return strings.Trim(disposition[idx+len(marker):], `"`)
}

// Items

func (c *Client) ListItems(ctx context.Context, filter ItemFilter) ([]Item, error) {
	var out struct {
		Items []Item `json:"items"`
	}
	query := url.Values{"workspaceId": {filter.WorkspaceID}}
	if filter.Type != "" {
		query.Set("type", filter.Type)
	}
	if filter.Priority != "" {
		query.Set("priority", filter.Priority)
	}
	if filter.Completed != nil {
		query.Set("completed", strconv.FormatBool(*filter.Completed))
	}
	if filter.SortBy != "" {
		query.Set("sortBy", filter.SortBy)
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/items", query, nil, &out)
	return out.Items, err
}

func (c *Client) CreateItem(ctx context.Context, in ItemInput) (Item, error) {
	var out struct {
		Item Item `json:"item"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/items", nil, in, &out)
	return out.Item, err
}

func (c *Client) UpdateItem(ctx context.Context, update ItemUpdate) (Item, error) {
	var out struct {
		Item Item `json:"item"`
	}
	err := c.doJSON(ctx, http.MethodPatch, "/api/items", nil, update, &out)
	return out.Item, err
}

func (c *Client) DeleteItem(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/items", url.Values{"id": {id}}, nil, nil)
}

// Comments

func (c *Client) ListComments(ctx context.Context, pageID string) ([]Comment, error) {
	var out struct {
		Comments []Comment `json:"comments"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/comments", url.Values{"pageId": {pageID}}, nil, &out)
	return out.Comments, err
}

// CreateComment posts a top-level comment, or a reply when parentID is set.
func (c *Client) CreateComment(ctx context.Context, pageID, content, parentID string) (Comment, error) {
	var out struct {
		Comment Comment `json:"comment"`
	}
	body := map[string]string{"pageId": pageID, "content": content}
	if parentID != "" {
		body["parentId"] = parentID
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/comments", nil, body, &out)
	return out.Comment, err
}

func (c *Client) UpdateComment(ctx context.Context, id, content string) (Comment, error) {
	var out struct {
		Comment Comment `json:"comment"`
	}
	err := c.doJSON(ctx, http.MethodPatch, "/api/comments", nil, map[string]string{"id": id, "content": content}, &out)
	return out.Comment, err
}

func (c *Client) DeleteComment(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/comments", url.Values{"id": {id}}, nil, nil)
}

// UploadImage sends an image as multipart form data.
func (c *Client) UploadImage(ctx context.Context, workspaceID, filename, contentType string, data io.Reader) (Upload, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("workspaceId", workspaceID); err != nil {
		return Upload{}, err
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return Upload{}, err
	}
	if _, err := io.Copy(part, data); err != nil {
		return Upload{}, err
	}
	if err := writer.Close(); err != nil {
		return Upload{}, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/uploads", nil, &body)
	if err != nil {
		return Upload{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Upload{}, err
	}
	var out struct {
		Upload Upload `json:"upload"`
	}
	err = decodeResponse(resp, &out)
	return out.Upload, err
}
