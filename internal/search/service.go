package search

import (
	"context"
	"time"

	"go.uber.org/zap"

	"flux/api/internal/store"
)

// reindexBatch is how many records go to Meilisearch per request.
const reindexBatch = 500

// index is the Meilisearch side of the service.
type index interface {
	Healthy() bool
	Snippets(q Query, ids []string) (map[string]string, error)
	IndexPage(record PageRecord) error
	IndexPages(records []PageRecord) error
	DeletePage(id string) error
	OnRecover(fn func())
}

// Service answers page searches from the database and, when Meilisearch is
// up, decorates the hits with its highlighted snippets. The database decides
// which pages match so results never depend on index freshness.
type Service struct {
	index  index
	source Source
	log    *zap.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured. Every Meilisearch recovery triggers a full reindex.
func NewService(meili *Meili, source Source) *Service {
	if meili == nil {
		return newService(nil, source)
	}
	return newService(meili, source)
}

func newService(idx index, source Source) *Service {
	s := &Service{index: idx, source: source, log: zap.L().With(zap.String("component", "search"))}
	if idx != nil {
		idx.OnRecover(s.reindexInBackground)
	}
	return s
}

// Search returns up to DefaultLimit live pages whose title or text contains
// the query, most recently updated first.
func (s *Service) Search(ctx context.Context, q Query) (Response, error) {
	if q.Limit <= 0 || q.Limit > DefaultLimit {
		q.Limit = DefaultLimit
	}

	pages, err := s.source.SearchPages(ctx, q.WorkspaceID, q.Text, q.Limit)
	if err != nil {
		return Response{}, err
	}
	results := make([]Result, 0, len(pages))
	ids := make([]string, 0, len(pages))
	for _, page := range pages {
		result := resultFromPage(page)
		result.Snippet = localSnippet(page, q.Text)
		results = append(results, result)
		ids = append(ids, page.ID)
	}

	if len(ids) > 0 && s.Healthy() {
		snippets, err := s.index.Snippets(q, ids)
		if err != nil {
			s.log.Warn("meilisearch snippets, using local ones", zap.Error(err))
		}
		for i := range results {
			if snippet := snippets[results[i].ID]; snippet != "" {
				results[i].Snippet = snippet
			}
		}
	}
	return Response{Results: results, Query: q.Text}, nil
}

// IndexPage indexes a page (fire-and-forget to Meilisearch).
func (s *Service) IndexPage(page store.Page) {
	if !s.Healthy() {
		return
	}
	record := RecordFromPage(page)
	go func() {
		if err := s.index.IndexPage(record); err != nil {
			s.log.Warn("index page", zap.String("page_id", record.ID), zap.Error(err))
		}
	}()
}

// DeletePage removes a page from the search index (fire-and-forget).
func (s *Service) DeletePage(id string) {
	if !s.Healthy() {
		return
	}
	go func() {
		if err := s.index.DeletePage(id); err != nil {
			s.log.Warn("delete page", zap.String("page_id", id), zap.Error(err))
		}
	}()
}

// Reindex pushes every page to Meilisearch, catching up on writes made while
// it was down. Archived pages are indexed too; the filter hides them.
func (s *Service) Reindex(ctx context.Context) error {
	if !s.Healthy() {
		return nil
	}
	pages, err := s.source.AllPages(ctx)
	if err != nil {
		return err
	}
	records := make([]PageRecord, 0, len(pages))
	for _, page := range pages {
		records = append(records, RecordFromPage(page))
	}
	for start := 0; start < len(records); start += reindexBatch {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+reindexBatch, len(records))
		if err := s.index.IndexPages(records[start:end]); err != nil {
			return err
		}
	}
	s.log.Info("reindexed pages", zap.Int("count", len(records)))
	return nil
}

func (s *Service) reindexInBackground() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := s.Reindex(ctx); err != nil {
			s.log.Warn("reindex pages", zap.Error(err))
		}
	}()
}

// Healthy reports whether Meilisearch is configured and reachable. Search
// works either way; readiness shows "fallback" when it is not.
func (s *Service) Healthy() bool {
	return s.index != nil && s.index.Healthy()
}
