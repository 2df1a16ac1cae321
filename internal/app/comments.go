package app

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"flux/api/internal/events"
	"flux/api/internal/rbac"
	"flux/api/internal/store"
)

func (s *Service) ListComments(ctx context.Context, session Session, pageID string) ([]store.Comment, error) {
	page, err := s.readablePage(ctx, session, pageID)
	if err != nil {
		return nil, err
	}
	comments, err := s.store.ListComments(ctx, page.ID)
	if err != nil {
		return nil, err
	}
	if comments == nil {
		comments = []store.Comment{}
	}
	return comments, nil
}

// CreateComment keeps threads one level deep: replying to a reply attaches
// the new comment to that reply's top-level parent.
func (s *Service) CreateComment(ctx context.Context, session Session, req createCommentRequest) (store.Comment, error) {
	req.Content = strings.TrimSpace(req.Content)
	if err := validateRequest(&req, "Content and Page ID required"); err != nil {
		return store.Comment{}, err
	}
	page, err := s.store.GetPage(ctx, req.PageID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.Comment{}, errNotFound("Page not found")
	}
	if err != nil {
		return store.Comment{}, err
	}
	if _, err := s.authorize(ctx, page.WorkspaceID, session.UserID, rbac.ActionComment, "Access denied"); err != nil {
		return store.Comment{}, err
	}

	comment := store.Comment{
		Content: req.Content,
		PageID:  page.ID,
		UserID:  session.UserID,
	}
	if req.ParentID != nil && *req.ParentID != "" {
		parent, err := s.store.GetComment(ctx, *req.ParentID)
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && parent.PageID != page.ID) {
			return store.Comment{}, errNotFound("Parent comment not found")
		}
		if err != nil {
			return store.Comment{}, err
		}
		parentID := parent.ID
		if parent.ParentID != nil {
			parentID = *parent.ParentID
		}
		comment.ParentID = &parentID
	}

	if err := s.store.CreateComment(ctx, &comment); err != nil {
		return store.Comment{}, err
	}
	s.publish(ctx, events.TopicCommentCreated, page.WorkspaceID, session.UserID, comment.ID, map[string]any{
		"pageId":   page.ID,
		"parentId": comment.ParentID,
	})
	return comment, nil
}

// authoredComment loads a comment written by the caller.
func (s *Service) authoredComment(ctx context.Context, session Session, commentID string) (store.Comment, error) {
	comment, err := s.store.GetComment(ctx, commentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.Comment{}, errNotFound("Comment not found")
	}
	if err != nil {
		return store.Comment{}, err
	}
	if comment.UserID != session.UserID {
		return store.Comment{}, errForbidden("Only the author can modify this comment")
	}
	return comment, nil
}

func (s *Service) UpdateComment(ctx context.Context, session Session, req updateCommentRequest) (store.Comment, error) {
	req.Content = strings.TrimSpace(req.Content)
	if err := validateRequest(&req, "Comment ID and content required"); err != nil {
		return store.Comment{}, err
	}
	if _, err := s.authoredComment(ctx, session, req.ID); err != nil {
		return store.Comment{}, err
	}
	return s.store.UpdateCommentContent(ctx, req.ID, req.Content)
}

func (s *Service) DeleteComment(ctx context.Context, session Session, commentID string) error {
	if strings.TrimSpace(commentID) == "" {
		return errValidation("Comment ID required", nil)
	}
	if _, err := s.authoredComment(ctx, session, commentID); err != nil {
		return err
	}
	return s.store.DeleteComment(ctx, commentID)
}
