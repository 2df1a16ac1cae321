package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"flux/api/internal/events"
	"flux/api/internal/export"
	"flux/api/internal/gitrepo"
	"flux/api/internal/rbac"
	"flux/api/internal/search"
	"flux/api/internal/store"
)

const (
	defaultPageTitle = "Untitled"
	defaultPageIcon  = "📝"

	maxPageDepth = 256
)

// ListPages returns the workspace's pages as a forest. A page whose parent
// is filtered out is dropped along with its subtree.
func (s *Service) ListPages(ctx context.Context, session Session, workspaceID string, includeArchived bool) ([]*store.Page, error) {
	if strings.TrimSpace(workspaceID) == "" {
		return nil, errValidation("Workspace ID required", nil)
	}
	if _, err := s.authorize(ctx, workspaceID, session.UserID, rbac.ActionRead, "Access denied"); err != nil {
		return nil, err
	}
	pages, err := s.store.ListPages(ctx, workspaceID, includeArchived)
	if err != nil {
		return nil, err
	}
	return buildForest(pages), nil
}

// buildForest links pages to their parents. The input order (position asc,
// created_at desc) is kept at every level.
func buildForest(pages []store.Page) []*store.Page {
	nodes := make(map[string]*store.Page, len(pages))
	for i := range pages {
		pages[i].Children = nil
		nodes[pages[i].ID] = &pages[i]
	}

	roots := make([]*store.Page, 0)
	for i := range pages {
		page := &pages[i]
		if page.ParentID == nil {
			roots = append(roots, page)
			continue
		}
		if parent, ok := nodes[*page.ParentID]; ok && parent != page {
			parent.Children = append(parent.Children, page)
		}
	}
	return roots
}

func (s *Service) CreatePage(ctx context.Context, session Session, req createPageRequest) (store.Page, error) {
	if err := validateRequest(&req, "Workspace ID required"); err != nil {
		return store.Page{}, err
	}
	if _, err := s.authorize(ctx, req.WorkspaceID, session.UserID, rbac.ActionWrite, "Viewers cannot create pages"); err != nil {
		return store.Page{}, err
	}

	page := store.Page{
		Title:       req.Title,
		Icon:        req.Icon,
		Content:     req.Content,
		WorkspaceID: req.WorkspaceID,
		UserID:      session.UserID,
	}
	if req.Template != "" {
		tmpl, ok := findTemplate(req.Template)
		if !ok {
			return store.Page{}, errValidation("Unknown template", map[string]string{"template": req.Template})
		}
		if page.Title == "" {
			page.Title = tmpl.title
		}
		if page.Icon == "" {
			page.Icon = tmpl.Icon
		}
		if page.Content == "" {
			page.Content = tmpl.content(time.Now())
		}
	}
	if page.Title == "" {
		page.Title = defaultPageTitle
	}
	if page.Icon == "" {
		page.Icon = defaultPageIcon
	}

	if req.ParentID != nil && *req.ParentID != "" {
		if _, err := s.parentPage(ctx, req.WorkspaceID, *req.ParentID); err != nil {
			return store.Page{}, err
		}
		parentID := *req.ParentID
		page.ParentID = &parentID
	}

	if err := s.store.CreatePage(ctx, &page); err != nil {
		return store.Page{}, err
	}

	s.recordRevision(page, session, "")
	s.search.IndexPage(page)
	s.publish(ctx, events.TopicPageCreated, page.WorkspaceID, session.UserID, page.ID, map[string]any{
		"title":    page.Title,
		"parentId": page.ParentID,
	})
	return page, nil
}

func (s *Service) parentPage(ctx context.Context, workspaceID, parentID string) (store.Page, error) {
	parent, err := s.store.GetPage(ctx, parentID)
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && parent.WorkspaceID != workspaceID) {
		return store.Page{}, errNotFound("Parent page not found")
	}
	return parent, err
}

// ownedPage loads a page the caller may modify: the caller created it and
// still holds a writing role in its workspace.
func (s *Service) ownedPage(ctx context.Context, session Session, pageID string) (store.Page, error) {
	page, err := s.store.GetPage(ctx, pageID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.Page{}, errNotFound("Page not found")
	}
	if err != nil {
		return store.Page{}, err
	}
	if page.UserID != session.UserID {
		return store.Page{}, errForbidden("Only the page owner can edit this page")
	}
	if _, err := s.authorize(ctx, page.WorkspaceID, session.UserID, rbac.ActionWrite, "Viewers cannot edit pages"); err != nil {
		return store.Page{}, err
	}
	return page, nil
}

func (s *Service) UpdatePage(ctx context.Context, session Session, req updatePageRequest) (store.Page, error) {
	if err := validateRequest(&req, "Page ID required"); err != nil {
		return store.Page{}, err
	}
	page, err := s.ownedPage(ctx, session, req.ID)
	if err != nil {
		return store.Page{}, err
	}
	before := snapshotOf(page)
	oldParent := page.ParentID

	if req.Title != nil {
		page.Title = *req.Title
	}
	if req.Icon != nil {
		page.Icon = *req.Icon
	}
	if req.Content != nil {
		page.Content = *req.Content
	}
	if req.CoverImage != nil {
		page.CoverImage = *req.CoverImage
	}
	if req.Position != nil {
		page.Position = *req.Position
	}
	if req.IsArchived != nil {
		page.IsArchived = *req.IsArchived
	}
	if req.ParentID.Set {
		if err := s.moveUnder(ctx, &page, req.ParentID.Value); err != nil {
			return store.Page{}, err
		}
	}

	save := s.store.SavePage
	if req.Position == nil && !sameParent(oldParent, page.ParentID) {
		save = s.store.MovePage
	}
	if err := save(ctx, &page); err != nil {
		return store.Page{}, err
	}

	fields := gitrepo.ChangedFields(&before, snapshotOf(page))
	if len(fields) > 0 {
		s.recordRevision(page, session, "")
	}
	s.search.IndexPage(page)
	s.publish(ctx, events.TopicPageUpdated, page.WorkspaceID, session.UserID, page.ID, map[string]any{
		"fields": fields,
	})
	return page, nil
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// moveUnder reparents page, refusing moves across workspaces and moves
// below the page itself or one of its descendants.
func (s *Service) moveUnder(ctx context.Context, page *store.Page, parentID *string) error {
	if parentID == nil || *parentID == "" {
		page.ParentID = nil
		return nil
	}
	if *parentID == page.ID {
		return errValidation("A page cannot be moved under itself", nil)
	}
	parent, err := s.parentPage(ctx, page.WorkspaceID, *parentID)
	if err != nil {
		return err
	}

	ancestor := parent.ParentID
	for depth := 0; ancestor != nil && depth < maxPageDepth; depth++ {
		if *ancestor == page.ID {
			return errValidation("A page cannot be moved under itself", nil)
		}
		next, err := s.store.GetPage(ctx, *ancestor)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			break
		}
		if err != nil {
			return err
		}
		ancestor = next.ParentID
	}

	id := parent.ID
	page.ParentID = &id
	return nil
}

// ArchivePage soft-deletes a page. Descendants keep their own flag.
func (s *Service) ArchivePage(ctx context.Context, session Session, pageID string) error {
	if strings.TrimSpace(pageID) == "" {
		return errValidation("Page ID required", nil)
	}
	page, err := s.ownedPage(ctx, session, pageID)
	if err != nil {
		return err
	}
	if page.IsArchived {
		return nil
	}
	page.IsArchived = true
	if err := s.store.SavePage(ctx, &page); err != nil {
		return err
	}
	s.search.IndexPage(page)
	s.publish(ctx, events.TopicPageArchived, page.WorkspaceID, session.UserID, page.ID, nil)
	return nil
}

func (s *Service) SearchPages(ctx context.Context, session Session, workspaceID, query string) (search.Response, error) {
	query = strings.TrimSpace(query)
	if strings.TrimSpace(workspaceID) == "" || query == "" {
		return search.Response{}, errValidation("Workspace ID and query required", nil)
	}
	if _, err := s.authorize(ctx, workspaceID, session.UserID, rbac.ActionRead, "Access denied"); err != nil {
		return search.Response{}, err
	}
	return s.search.Search(ctx, search.Query{WorkspaceID: workspaceID, Text: query, Limit: search.DefaultLimit})
}

// readablePage loads a page the caller can see as a workspace member.
func (s *Service) readablePage(ctx context.Context, session Session, pageID string) (store.Page, error) {
	if strings.TrimSpace(pageID) == "" {
		return store.Page{}, errValidation("Page ID required", nil)
	}
	page, err := s.store.GetPage(ctx, pageID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.Page{}, errNotFound("Page not found")
	}
	if err != nil {
		return store.Page{}, err
	}
	if _, err := s.authorize(ctx, page.WorkspaceID, session.UserID, rbac.ActionRead, "Access denied"); err != nil {
		return store.Page{}, err
	}
	return page, nil
}

func (s *Service) ExportPage(ctx context.Context, session Session, pageID, format string) (*export.Result, error) {
	f, ok := export.ParseFormat(format)
	if !ok {
		return nil, errValidation("Unsupported export format", map[string]string{"format": format})
	}
	page, err := s.readablePage(ctx, session, pageID)
	if err != nil {
		return nil, err
	}
	return s.export.Export(ctx, export.Document{
		Title:     page.Title,
		Icon:      page.Icon,
		HTML:      page.Content,
		UpdatedAt: page.UpdatedAt,
	}, f)
}

func (s *Service) PageHistory(ctx context.Context, session Session, pageID string, limit int) ([]gitrepo.Revision, error) {
	page, err := s.readablePage(ctx, session, pageID)
	if err != nil {
		return nil, err
	}
	if s.history == nil {
		return []gitrepo.Revision{}, nil
	}
	return s.history.History(page.WorkspaceID, page.ID, limit)
}

func (s *Service) PageSnapshot(ctx context.Context, session Session, pageID, hash string) (gitrepo.Snapshot, error) {
	page, err := s.readablePage(ctx, session, pageID)
	if err != nil {
		return gitrepo.Snapshot{}, err
	}
	if s.history == nil {
		return gitrepo.Snapshot{}, errNotFound("Revision not found")
	}
	snap, err := s.history.SnapshotAt(page.WorkspaceID, page.ID, hash)
	if err != nil {
		s.log.Debug("snapshot lookup", zap.String("page_id", page.ID), zap.String("hash", hash), zap.Error(err))
		return gitrepo.Snapshot{}, errNotFound("Revision not found")
	}
	return snap, nil
}

func (s *Service) recordRevision(page store.Page, session Session, message string) {
	if s.history == nil {
		return
	}
	author := gitrepo.Author{Name: session.Name, Email: session.Email}
	if _, err := s.history.Record(page.WorkspaceID, page.ID, snapshotOf(page), author, message); err != nil {
		s.log.Warn("record page revision",
			zap.String("workspace_id", page.WorkspaceID),
			zap.String("page_id", page.ID),
			zap.Error(err),
		)
	}
}

func snapshotOf(page store.Page) gitrepo.Snapshot {
	return gitrepo.Snapshot{
		Title:      page.Title,
		Icon:       page.Icon,
		Content:    page.Content,
		CoverImage: page.CoverImage,
	}
}
