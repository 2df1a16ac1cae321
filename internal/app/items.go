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

const itemWriteDenied = "Viewers cannot modify items"

func (s *Service) ListItems(ctx context.Context, session Session, filter store.ItemFilter) ([]store.Item, error) {
	if strings.TrimSpace(filter.WorkspaceID) == "" {
		return nil, errValidation("workspaceId is required", nil)
	}
	if _, err := s.authorize(ctx, filter.WorkspaceID, session.UserID, rbac.ActionRead, "Access denied"); err != nil {
		return nil, err
	}
	items, err := s.store.ListItems(ctx, filter)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []store.Item{}
	}
	return items, nil
}

func (s *Service) CreateItem(ctx context.Context, session Session, req createItemRequest) (store.Item, error) {
	if err := validateRequest(&req, "Missing required fields"); err != nil {
		return store.Item{}, err
	}
	if req.UserID != "" && req.UserID != session.UserID {
		return store.Item{}, errForbidden("Access denied")
	}
	if _, err := s.authorize(ctx, req.WorkspaceID, session.UserID, rbac.ActionWrite, itemWriteDenied); err != nil {
		return store.Item{}, err
	}

	item := store.Item{
		Type:        req.Type,
		Title:       req.Title,
		Content:     req.Content,
		PositionX:   req.PositionX,
		PositionY:   req.PositionY,
		Priority:    req.Priority,
		DueDate:     req.DueDate,
		Images:      req.Images,
		WorkspaceID: req.WorkspaceID,
		UserID:      session.UserID,
	}
	if err := s.store.CreateItem(ctx, &item); err != nil {
		return store.Item{}, err
	}
	s.publish(ctx, events.TopicItemCreated, item.WorkspaceID, session.UserID, item.ID, map[string]any{"type": item.Type})
	return item, nil
}

// writableItem loads an item whose workspace grants the caller write access.
func (s *Service) writableItem(ctx context.Context, session Session, itemID string) (store.Item, error) {
	item, err := s.store.GetItem(ctx, itemID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.Item{}, errNotFound("Item not found")
	}
	if err != nil {
		return store.Item{}, err
	}
	if _, err := s.authorize(ctx, item.WorkspaceID, session.UserID, rbac.ActionWrite, itemWriteDenied); err != nil {
		return store.Item{}, err
	}
	return item, nil
}

func (s *Service) UpdateItem(ctx context.Context, session Session, req updateItemRequest) (store.Item, error) {
	if err := validateRequest(&req, "Item ID required"); err != nil {
		return store.Item{}, err
	}
	item, err := s.writableItem(ctx, session, req.ID)
	if err != nil {
		return store.Item{}, err
	}
	if (req.WorkspaceID != nil && *req.WorkspaceID != item.WorkspaceID) ||
		(req.UserID != nil && *req.UserID != item.UserID) {
		return store.Item{}, errValidation("workspaceId and userId cannot be changed", nil)
	}

	if req.Type != nil {
		item.Type = *req.Type
	}
	if req.Title != nil {
		if strings.TrimSpace(*req.Title) == "" {
			return store.Item{}, errValidation("Missing required fields", nil)
		}
		item.Title = *req.Title
	}
	if req.Content != nil {
		item.Content = *req.Content
	}
	if req.Completed != nil {
		item.Completed = *req.Completed
	}
	if req.PositionX != nil {
		item.PositionX = *req.PositionX
	}
	if req.PositionY != nil {
		item.PositionY = *req.PositionY
	}
	if req.Priority != nil {
		item.Priority = *req.Priority
	}
	if req.DueDate.Set {
		item.DueDate = req.DueDate.Value
	}
	if req.Images != nil {
		item.Images = *req.Images
	}

	if err := s.store.SaveItem(ctx, &item); err != nil {
		return store.Item{}, err
	}
	s.publish(ctx, events.TopicItemUpdated, item.WorkspaceID, session.UserID, item.ID, nil)
	return item, nil
}

func (s *Service) DeleteItem(ctx context.Context, session Session, itemID string) error {
	if strings.TrimSpace(itemID) == "" {
		return errValidation("Item ID required", nil)
	}
	item, err := s.writableItem(ctx, session, itemID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteItem(ctx, item.ID); err != nil {
		return err
	}
	s.publish(ctx, events.TopicItemDeleted, item.WorkspaceID, session.UserID, item.ID, nil)
	return nil
}
