package search

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

const idxPages = "flux_pages"

// Meili indexes and searches pages via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
	log     *zap.Logger

	mu        sync.Mutex
	onRecover func()
}

// NewMeili creates a Meilisearch client and configures the page index. The
// returned value is usable even when the server is down; Healthy reports
// false until the background check succeeds.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
		log:    zap.L().With(zap.String("search", "meilisearch")),
	}

	if _, err := client.Health(); err != nil {
		m.log.Warn("meilisearch unavailable", zap.String("url", url), zap.Error(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxPages,
		PrimaryKey: "id",
	}); err != nil {
		m.log.Debug("create index (may already exist)", zap.String("index", idxPages), zap.Error(err))
	}

	index := m.client.Index(idxPages)
	filterable := []interface{}{"id", "workspaceId", "isArchived"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.log.Warn("update filterable attributes", zap.Error(err))
	}
	searchable := []string{"title", "text"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.Warn("update searchable attributes", zap.Error(err))
	}
	sortable := []string{"updatedAt"}
	if _, err := index.UpdateSortableAttributes(&sortable); err != nil {
		m.log.Warn("update sortable attributes", zap.Error(err))
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.log.Info("meilisearch recovered, reconfiguring index")
				m.configureIndexes()
				m.recovered()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// OnRecover registers fn to run each time Meilisearch comes back after
// being unreachable.
func (m *Meili) OnRecover(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRecover = fn
}

func (m *Meili) recovered() {
	m.mu.Lock()
	fn := m.onRecover
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Snippets returns highlighted text crops for the given pages of one
// workspace, keyed by page id. Pages Meilisearch does not match are absent.
func (m *Meili) Snippets(q Query, ids []string) (map[string]string, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID:              idxPages,
			Query:                 q.Text,
			Limit:                 int64(len(ids)),
			Filter:                append(buildFilter(q.WorkspaceID), idFilter(ids)),
			AttributesToHighlight: []string{"text"},
			AttributesToCrop:      []string{"text"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	snippets := make(map[string]string, len(ids))
	for _, sr := range resp.Results {
		for _, hit := range sr.Hits {
			result := hitToResult(hit)
			if result.ID != "" && result.Snippet != "" {
				snippets[result.ID] = result.Snippet
			}
		}
	}
	return snippets, nil
}

func buildFilter(workspaceID string) []string {
	return []string{
		fmt.Sprintf("workspaceId = %q", workspaceID),
		"isArchived = false",
	}
}

func idFilter(ids []string) string {
	quoted := make([]string, 0, len(ids))
	for _, id := range ids {
		quoted = append(quoted, fmt.Sprintf("%q", id))
	}
	return "id IN [" + strings.Join(quoted, ", ") + "]"
}

func hitToResult(hit meili.Hit) Result {
	r := Result{
		ID:          decodeString(hit, "id"),
		Title:       decodeString(hit, "title"),
		Icon:        decodeString(hit, "icon"),
		WorkspaceID: decodeString(hit, "workspaceId"),
		Snippet:     decodeFormattedString(hit, "text"),
	}
	if parent := decodeString(hit, "parentId"); parent != "" {
		r.ParentID = &parent
	}
	if raw, ok := hit["updatedAt"]; ok {
		var unix int64
		if err := json.Unmarshal(raw, &unix); err == nil {
			r.UpdatedAt = time.Unix(unix, 0).UTC()
		}
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	value, _ := formatted[key].(string)
	return strings.TrimSpace(value)
}

// IndexPage adds or updates a page in the search index.
func (m *Meili) IndexPage(record PageRecord) error {
	_, err := m.client.Index(idxPages).AddDocuments([]PageRecord{record}, nil)
	return err
}

// IndexPages bulk-indexes pages.
func (m *Meili) IndexPages(records []PageRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxPages).AddDocuments(records, nil)
	return err
}

// DeletePage removes a page from the search index.
func (m *Meili) DeletePage(id string) error {
	_, err := m.client.Index(idxPages).DeleteDocument(id, nil)
	return err
}
