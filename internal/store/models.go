package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Name      string    `json:"name"`
	Email     string    `gorm:"uniqueIndex:idx_users_email_unique,where:email <> ''" json:"email"`
	Image     string    `json:"image"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Workspace struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	Slug      string    `gorm:"uniqueIndex;not null" json:"slug"`
	OwnerID   string    `gorm:"index;size:64;not null" json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (w *Workspace) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	return nil
}

// WorkspaceMember is unique per (workspace, user).
type WorkspaceMember struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	WorkspaceID string    `gorm:"size:36;not null;uniqueIndex:idx_workspace_member" json:"workspaceId"`
	UserID      string    `gorm:"size:64;not null;uniqueIndex:idx_workspace_member" json:"userId"`
	Role        string    `gorm:"size:16;not null" json:"role"`
	User        *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (m *WorkspaceMember) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

type Page struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Title       string    `json:"title"`
	Icon        string    `json:"icon"`
	Content     string    `gorm:"type:text" json:"content"`
	CoverImage  string    `json:"coverImage,omitempty"`
	WorkspaceID string    `gorm:"size:36;not null;index:idx_page_siblings,priority:1" json:"workspaceId"`
	ParentID    *string   `gorm:"size:36;index:idx_page_siblings,priority:2" json:"parentId"`
	Position    int       `gorm:"not null;default:0" json:"position"`
	IsArchived  bool      `gorm:"not null;default:false" json:"isArchived"`
	UserID      string    `gorm:"size:64;not null" json:"userId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	Children []*Page `gorm:"-" json:"children,omitempty"`
}

func (p *Page) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

const (
	ItemNote = "note"
	ItemTask = "task"
	ItemLink = "link"
)

type Item struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	Type        string     `gorm:"size:16;not null" json:"type"`
	Title       string     `gorm:"not null" json:"title"`
	Content     string     `gorm:"type:text" json:"content"`
	Completed   bool       `gorm:"not null;default:false" json:"completed"`
	PositionX   float64    `gorm:"column:position_x" json:"position_x"`
	PositionY   float64    `gorm:"column:position_y" json:"position_y"`
	Priority    string     `gorm:"size:16" json:"priority,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Images      []string   `gorm:"serializer:json;type:text" json:"images,omitempty"`
	WorkspaceID string     `gorm:"size:36;not null;index" json:"workspaceId"`
	UserID      string     `gorm:"size:64;not null" json:"userId"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (i *Item) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}

// Comment replies are one level deep: a reply never has replies of its own.
type Comment struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	PageID    string    `gorm:"size:36;not null;index" json:"pageId"`
	UserID    string    `gorm:"size:64;not null" json:"userId"`
	ParentID  *string   `gorm:"size:36;index" json:"parentId"`
	User      *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Replies   []Comment `gorm:"foreignKey:ParentID" json:"replies,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (c *Comment) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// RevokedToken is the database fallback for logout when Redis is not configured.
type RevokedToken struct {
	JTI       string    `gorm:"primaryKey;size:64"`
	ExpiresAt time.Time `gorm:"index"`
}

// ItemFilter narrows ListItems. Zero values match everything.
type ItemFilter struct {
	WorkspaceID string
	Type        string
	Priority    string
	Completed   *bool
	SortBy      string
}

func allModels() []any {
	return []any{&User{}, &Workspace{}, &WorkspaceMember{}, &Page{}, &Item{}, &Comment{}, &RevokedToken{}}
}
