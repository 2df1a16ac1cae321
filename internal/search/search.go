package search

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"flux/api/internal/store"
)

// DefaultLimit caps the number of results for a page search.
const DefaultLimit = 20

// Result is a single search hit returned to the caller.
type Result struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Icon        string    `json:"icon"`
	Snippet     string    `json:"snippet,omitempty"`
	WorkspaceID string    `json:"workspaceId"`
	ParentID    *string   `json:"parentId"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Query describes a search request.
type Query struct {
	WorkspaceID string
	Text        string
	Limit       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Query   string   `json:"query"`
}

// Source is the page database. It decides which pages match a query and
// feeds full reindexes.
type Source interface {
	SearchPages(ctx context.Context, workspaceID, query string, limit int) ([]store.Page, error)
	AllPages(ctx context.Context) ([]store.Page, error)
}

// PageRecord is the data we index for a page.
type PageRecord struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Icon        string  `json:"icon"`
	Text        string  `json:"text"`
	WorkspaceID string  `json:"workspaceId"`
	ParentID    *string `json:"parentId"`
	IsArchived  bool    `json:"isArchived"`
	UpdatedAt   int64   `json:"updatedAt"`
}

var (
	tagPattern   = regexp.MustCompile(`<[^>]*>`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// RecordFromPage flattens page HTML into plain text for indexing.
func RecordFromPage(page store.Page) PageRecord {
	text := tagPattern.ReplaceAllString(page.Content, " ")
	text = strings.TrimSpace(spacePattern.ReplaceAllString(text, " "))
	return PageRecord{
		ID:          page.ID,
		Title:       page.Title,
		Icon:        page.Icon,
		Text:        text,
		WorkspaceID: page.WorkspaceID,
		ParentID:    page.ParentID,
		IsArchived:  page.IsArchived,
		UpdatedAt:   page.UpdatedAt.Unix(),
	}
}

func resultFromPage(page store.Page) Result {
	return Result{
		ID:          page.ID,
		Title:       page.Title,
		Icon:        page.Icon,
		WorkspaceID: page.WorkspaceID,
		ParentID:    page.ParentID,
		UpdatedAt:   page.UpdatedAt,
	}
}

// snippetContext is how many bytes of text surround a local match.
const snippetContext = 60

// localSnippet cuts the page text around the first case-insensitive match of
// query and marks it like Meilisearch does. Title-only matches have none.
func localSnippet(page store.Page, query string) string {
	text := RecordFromPage(page).Text
	lowerText := strings.ToLower(text)
	lowerQuery := strings.ToLower(strings.TrimSpace(query))
	// Offsets only carry over when lowering keeps byte lengths.
	if lowerQuery == "" || len(lowerText) != len(text) {
		return ""
	}
	at := strings.Index(lowerText, lowerQuery)
	if at < 0 {
		return ""
	}
	end := at + len(lowerQuery)

	start := max(0, at-snippetContext)
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	stop := min(len(text), end+snippetContext)
	for stop < len(text) && !utf8.RuneStart(text[stop]) {
		stop++
	}

	var b strings.Builder
	if start > 0 {
		b.WriteString("…")
	}
	b.WriteString(text[start:at])
	b.WriteString("<mark>")
	b.WriteString(text[at:end])
	b.WriteString("</mark>")
	b.WriteString(text[end:stop])
	if stop < len(text) {
		b.WriteString("…")
	}
	return b.String()
}
