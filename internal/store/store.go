package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrAlreadyMember = errors.New("already a member")

// ErrSlugTaken is returned when a workspace slug is already in use.
var ErrSlugTaken = errors.New("workspace slug taken")

// ErrEmailTaken is returned when another account already holds the email.
var ErrEmailTaken = errors.New("email belongs to another user")

// ErrNotFound is gorm's sentinel so callers can use either.
var ErrNotFound = gorm.ErrRecordNotFound

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// UpsertUser records the identity-provider profile. Only display fields are
// refreshed on conflict. Non-empty emails are unique across users.
func (s *Store) UpsertUser(ctx context.Context, user User) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "email", "image", "updated_at"}),
	}).Create(&user).Error
	if err != nil && isUniqueViolation(err) {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).
		Where("LOWER(email) = ?", strings.ToLower(strings.TrimSpace(email))).
		Order("created_at ASC").
		First(&user).Error
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// CreateWorkspace inserts the workspace and its owner membership together.
func (s *Store) CreateWorkspace(ctx context.Context, workspace *Workspace) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(workspace).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrSlugTaken
			}
			return fmt.Errorf("insert workspace: %w", err)
		}
		owner := WorkspaceMember{
			WorkspaceID: workspace.ID,
			UserID:      workspace.OwnerID,
			Role:        "owner",
		}
		if err := tx.Create(&owner).Error; err != nil {
			return fmt.Errorf("insert owner membership: %w", err)
		}
		return nil
	})
}

func (s *Store) GetWorkspace(ctx context.Context, workspaceID string) (Workspace, error) {
	var workspace Workspace
	if err := s.db.WithContext(ctx).First(&workspace, "id = ?", workspaceID).Error; err != nil {
		return Workspace{}, err
	}
	return workspace, nil
}

func (s *Store) ListWorkspacesForUser(ctx context.Context, userID string) ([]Workspace, error) {
	var workspaces []Workspace
	err := s.db.WithContext(ctx).
		Joins("JOIN workspace_members ON workspace_members.workspace_id = workspaces.id").
		Where("workspace_members.user_id = ?", userID).
		Order("workspaces.created_at DESC").
		Find(&workspaces).Error
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	return workspaces, nil
}

// DeleteWorkspace removes the workspace and everything it owns: comments on
// its pages, pages, items, memberships.
func (s *Store) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pageIDs := tx.Model(&Page{}).Select("id").Where("workspace_id = ?", workspaceID)
		if err := tx.Where("page_id IN (?)", pageIDs).Delete(&Comment{}).Error; err != nil {
			return fmt.Errorf("delete comments: %w", err)
		}
		if err := tx.Where("workspace_id = ?", workspaceID).Delete(&Page{}).Error; err != nil {
			return fmt.Errorf("delete pages: %w", err)
		}
		if err := tx.Where("workspace_id = ?", workspaceID).Delete(&Item{}).Error; err != nil {
			return fmt.Errorf("delete items: %w", err)
		}
		if err := tx.Where("workspace_id = ?", workspaceID).Delete(&WorkspaceMember{}).Error; err != nil {
			return fmt.Errorf("delete members: %w", err)
		}
		result := tx.Where("id = ?", workspaceID).Delete(&Workspace{})
		if result.Error != nil {
			return fmt.Errorf("delete workspace: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

func (s *Store) GetMember(ctx context.Context, workspaceID, userID string) (WorkspaceMember, error) {
	var member WorkspaceMember
	err := s.db.WithContext(ctx).
		Where("workspace_id = ? AND user_id = ?", workspaceID, userID).
		First(&member).Error
	if err != nil {
		return WorkspaceMember{}, err
	}
	return member, nil
}

func (s *Store) ListMembers(ctx context.Context, workspaceID string) ([]WorkspaceMember, error) {
	var members []WorkspaceMember
	err := s.db.WithContext(ctx).
		Preload("User").
		Where("workspace_id = ?", workspaceID).
		Order("created_at ASC").
		Find(&members).Error
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

// AddMember relies on the (workspace_id, user_id) unique index so that two
// racing invitations produce exactly one row.
func (s *Store) AddMember(ctx context.Context, member *WorkspaceMember) error {
	err := s.db.WithContext(ctx).Create(member).Error
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return ErrAlreadyMember
	}
	return fmt.Errorf("insert member: %w", err)
}

func (s *Store) RemoveMember(ctx context.Context, workspaceID, userID string) error {
	result := s.db.WithContext(ctx).
		Where("workspace_id = ? AND user_id = ?", workspaceID, userID).
		Delete(&WorkspaceMember{})
	if result.Error != nil {
		return fmt.Errorf("delete member: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *Store) UpdateMemberRole(ctx context.Context, workspaceID, userID, role string) (WorkspaceMember, error) {
	result := s.db.WithContext(ctx).
		Model(&WorkspaceMember{}).
		Where("workspace_id = ? AND user_id = ?", workspaceID, userID).
		Update("role", role)
	if result.Error != nil {
		return WorkspaceMember{}, fmt.Errorf("update member role: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return WorkspaceMember{}, gorm.ErrRecordNotFound
	}
	var member WorkspaceMember
	err := s.db.WithContext(ctx).
		Preload("User").
		Where("workspace_id = ? AND user_id = ?", workspaceID, userID).
		First(&member).Error
	return member, err
}

// ListPages returns the flat page set of a workspace ordered by position,
// newest first among equal positions.
func (s *Store) ListPages(ctx context.Context, workspaceID string, includeArchived bool) ([]Page, error) {
	query := s.db.WithContext(ctx).Where("workspace_id = ?", workspaceID)
	if !includeArchived {
		query = query.Where("is_archived = ?", false)
	}
	var pages []Page
	if err := query.Order("position ASC").Order("created_at DESC").Find(&pages).Error; err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	return pages, nil
}

func (s *Store) GetPage(ctx context.Context, pageID string) (Page, error) {
	var page Page
	if err := s.db.WithContext(ctx).First(&page, "id = ?", pageID).Error; err != nil {
		return Page{}, err
	}
	return page, nil
}

// CreatePage appends the page after its last sibling. The sibling scan and
// the insert share a transaction; on Postgres the workspace row is locked so
// concurrent creates in one workspace serialize.
func (s *Store) CreatePage(ctx context.Context, page *Page) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if isPostgres(tx) {
			var locked Workspace
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&locked, "id = ?", page.WorkspaceID).Error; err != nil {
				return err
			}
		}

		last, err := lastSiblingPosition(tx, page)
		if err != nil {
			return err
		}
		page.Position = last + 1

		if err := tx.Create(page).Error; err != nil {
			return fmt.Errorf("insert page: %w", err)
		}
		return nil
	})
}

// MovePage saves a reparented page after the last sibling under its new
// parent, locking like CreatePage.
func (s *Store) MovePage(ctx context.Context, page *Page) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if isPostgres(tx) {
			var locked Workspace
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&locked, "id = ?", page.WorkspaceID).Error; err != nil {
				return err
			}
		}

		last, err := lastSiblingPosition(tx.Where("id <> ?", page.ID), page)
		if err != nil {
			return err
		}
		page.Position = last + 1

		if err := tx.Save(page).Error; err != nil {
			return fmt.Errorf("save page: %w", err)
		}
		return nil
	})
}

// lastSiblingPosition returns the highest position under page's parent, or -1.
func lastSiblingPosition(tx *gorm.DB, page *Page) (int, error) {
	siblings := tx.Model(&Page{}).Where("workspace_id = ?", page.WorkspaceID)
	if page.ParentID == nil {
		siblings = siblings.Where("parent_id IS NULL")
	} else {
		siblings = siblings.Where("parent_id = ?", *page.ParentID)
	}
	var last int
	if err := siblings.Select("COALESCE(MAX(position), -1)").Row().Scan(&last); err != nil {
		return 0, fmt.Errorf("last sibling position: %w", err)
	}
	return last, nil
}

// SavePage writes every column of page. Concurrent writers follow last write wins.
func (s *Store) SavePage(ctx context.Context, page *Page) error {
	if err := s.db.WithContext(ctx).Save(page).Error; err != nil {
		return fmt.Errorf("save page: %w", err)
	}
	return nil
}

// AllPages returns every page, archived ones included, for reindexing.
func (s *Store) AllPages(ctx context.Context) ([]Page, error) {
	var pages []Page
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&pages).Error; err != nil {
		return nil, fmt.Errorf("all pages: %w", err)
	}
	return pages, nil
}

// SearchPages matches title or content case-insensitively among live pages.
func (s *Store) SearchPages(ctx context.Context, workspaceID, query string, limit int) ([]Page, error) {
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	var pages []Page
	err := s.db.WithContext(ctx).
		Where("workspace_id = ? AND is_archived = ?", workspaceID, false).
		Where(`(LOWER(title) LIKE ? ESCAPE '\' OR LOWER(content) LIKE ? ESCAPE '\')`, pattern, pattern).
		Order("updated_at DESC").
		Limit(limit).
		Find(&pages).Error
	if err != nil {
		return nil, fmt.Errorf("search pages: %w", err)
	}
	return pages, nil
}

func (s *Store) ListItems(ctx context.Context, filter ItemFilter) ([]Item, error) {
	query := s.db.WithContext(ctx).Where("workspace_id = ?", filter.WorkspaceID)
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Priority != "" {
		query = query.Where("priority = ?", filter.Priority)
	}
	if filter.Completed != nil {
		query = query.Where("completed = ?", *filter.Completed)
	}

	switch filter.SortBy {
	case "priority":
		query = query.Order("CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 WHEN 'low' THEN 2 ELSE 3 END")
	case "dueDate":
		query = query.Order("due_date IS NULL").Order("due_date ASC")
	}

	var items []Item
	if err := query.Order("created_at DESC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

func (s *Store) GetItem(ctx context.Context, itemID string) (Item, error) {
	var item Item
	if err := s.db.WithContext(ctx).First(&item, "id = ?", itemID).Error; err != nil {
		return Item{}, err
	}
	return item, nil
}

func (s *Store) CreateItem(ctx context.Context, item *Item) error {
	if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (s *Store) SaveItem(ctx context.Context, item *Item) error {
	if err := s.db.WithContext(ctx).Save(item).Error; err != nil {
		return fmt.Errorf("save item: %w", err)
	}
	return nil
}

func (s *Store) DeleteItem(ctx context.Context, itemID string) error {
	result := s.db.WithContext(ctx).Where("id = ?", itemID).Delete(&Item{})
	if result.Error != nil {
		return fmt.Errorf("delete item: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListComments returns top-level comments newest first, each carrying its
// direct replies oldest first.
func (s *Store) ListComments(ctx context.Context, pageID string) ([]Comment, error) {
	var comments []Comment
	err := s.db.WithContext(ctx).
		Where("page_id = ? AND parent_id IS NULL", pageID).
		Preload("User").
		Preload("Replies", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Preload("Replies.User").
		Order("created_at DESC").
		Find(&comments).Error
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}

func (s *Store) GetComment(ctx context.Context, commentID string) (Comment, error) {
	var comment Comment
	if err := s.db.WithContext(ctx).First(&comment, "id = ?", commentID).Error; err != nil {
		return Comment{}, err
	}
	return comment, nil
}

func (s *Store) CreateComment(ctx context.Context, comment *Comment) error {
	if err := s.db.WithContext(ctx).Omit("User", "Replies").Create(comment).Error; err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return s.db.WithContext(ctx).Preload("User").First(comment, "id = ?", comment.ID).Error
}

func (s *Store) UpdateCommentContent(ctx context.Context, commentID, content string) (Comment, error) {
	result := s.db.WithContext(ctx).Model(&Comment{}).Where("id = ?", commentID).Update("content", content)
	if result.Error != nil {
		return Comment{}, fmt.Errorf("update comment: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return Comment{}, gorm.ErrRecordNotFound
	}
	var comment Comment
	err := s.db.WithContext(ctx).Preload("User").First(&comment, "id = ?", commentID).Error
	return comment, err
}

// DeleteComment removes the comment and its replies.
func (s *Store) DeleteComment(ctx context.Context, commentID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("parent_id = ?", commentID).Delete(&Comment{}).Error; err != nil {
			return fmt.Errorf("delete replies: %w", err)
		}
		result := tx.Where("id = ?", commentID).Delete(&Comment{})
		if result.Error != nil {
			return fmt.Errorf("delete comment: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

func (s *Store) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&RevokedToken{JTI: jti, ExpiresAt: exp}).Error
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *Store) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&RevokedToken{}).
		Where("jti = ? AND expires_at > ?", jti, time.Now()).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return count > 0, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
