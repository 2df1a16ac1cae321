package client

import (
	"encoding/json"
	"time"
)

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Image string `json:"image"`
}

type Workspace struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	OwnerID   string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Member struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspaceId"`
	UserID      string    `json:"userId"`
	Role        string    `json:"role"`
	User        *User     `json:"user,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Page is a node of the workspace page tree. ListPages returns top-level
// pages with their descendants in Children.
type Page struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Icon        string    `json:"icon"`
	Content     string    `json:"content"`
	CoverImage  string    `json:"coverImage,omitempty"`
	WorkspaceID string    `json:"workspaceId"`
	ParentID    *string   `json:"parentId"`
	Position    int       `json:"position"`
	IsArchived  bool      `json:"isArchived"`
	UserID      string    `json:"userId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Children    []*Page   `json:"children,omitempty"`
}

type Item struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Completed   bool       `json:"completed"`
	PositionX   float64    `json:"position_x"`
	PositionY   float64    `json:"position_y"`
	Priority    string     `json:"priority,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Images      []string   `json:"images,omitempty"`
	WorkspaceID string     `json:"workspaceId"`
	UserID      string     `json:"userId"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type Comment struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	PageID    string    `json:"pageId"`
	UserID    string    `json:"userId"`
	ParentID  *string   `json:"parentId"`
	User      *User     `json:"user,omitempty"`
	Replies   []Comment `json:"replies,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Template struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type Revision struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
	Fields    []string  `json:"fields"`
}

type Snapshot struct {
	Title      string `json:"title"`
	Icon       string `json:"icon"`
	Content    string `json:"content"`
	CoverImage string `json:"coverImage,omitempty"`
}

type SearchResult struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Icon        string    `json:"icon"`
	Snippet     string    `json:"snippet,omitempty"`
	WorkspaceID string    `json:"workspaceId"`
	ParentID    *string   `json:"parentId"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Query   string         `json:"query"`
}

type Upload struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
}

type Export struct {
	Filename    string
	ContentType string
	Data        []byte
}

type SessionInfo struct {
	Authenticated bool      `json:"authenticated"`
	User          *User     `json:"user,omitempty"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

type Readiness struct {
	OK     bool                      `json:"ok"`
	Status string                    `json:"status"`
	Checks map[string]map[string]any `json:"checks"`
}

type PageInput struct {
	WorkspaceID string  `json:"workspaceId"`
	Title       string  `json:"title,omitempty"`
	Icon        string  `json:"icon,omitempty"`
	Content     string  `json:"content,omitempty"`
	ParentID    *string `json:"parentId,omitempty"`
	Template    string  `json:"template,omitempty"`
}

// PageUpdate sends only the fields that are set. MoveToTop sends an explicit
// null parent, moving the page to the top level.
type PageUpdate struct {
	ID         string
	Title      *string
	Icon       *string
	Content    *string
	CoverImage *string
	ParentID   *string
	MoveToTop  bool
	Position   *int
	IsArchived *bool
}

func (u PageUpdate) MarshalJSON() ([]byte, error) {
	body := map[string]any{"id": u.ID}
	setIf(body, "title", u.Title)
	setIf(body, "icon", u.Icon)
	setIf(body, "content", u.Content)
	setIf(body, "coverImage", u.CoverImage)
	setIf(body, "position", u.Position)
	setIf(body, "isArchived", u.IsArchived)
	switch {
	case u.MoveToTop:
		body["parentId"] = nil
	case u.ParentID != nil:
		body["parentId"] = *u.ParentID
	}
	return json.Marshal(body)
}

type ItemInput struct {
	WorkspaceID string     `json:"workspaceId"`
	Type        string     `json:"type"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	PositionX   float64    `json:"position_x"`
	PositionY   float64    `json:"position_y"`
	Priority    string     `json:"priority,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Images      []string   `json:"images,omitempty"`
}

// ItemUpdate sends only the fields that are set. ClearDueDate sends an
// explicit null due date.
type ItemUpdate struct {
	ID           string
	Type         *string
	Title        *string
	Content      *string
	Completed    *bool
	PositionX    *float64
	PositionY    *float64
	Priority     *string
	DueDate      *time.Time
	ClearDueDate bool
	Images       *[]string
}

func (u ItemUpdate) MarshalJSON() ([]byte, error) {
	body := map[string]any{"id": u.ID}
	setIf(body, "type", u.Type)
	setIf(body, "title", u.Title)
	setIf(body, "content", u.Content)
	setIf(body, "completed", u.Completed)
	setIf(body, "position_x", u.PositionX)
	setIf(body, "position_y", u.PositionY)
	setIf(body, "priority", u.Priority)
	setIf(body, "images", u.Images)
	switch {
	case u.ClearDueDate:
		body["dueDate"] = nil
	case u.DueDate != nil:
		body["dueDate"] = *u.DueDate
	}
	return json.Marshal(body)
}

// apply copies the set fields onto item.
func (u ItemUpdate) apply(item Item) Item {
	if u.Type != nil {
		item.Type = *u.Type
	}
	if u.Title != nil {
		item.Title = *u.Title
	}
	if u.Content != nil {
		item.Content = *u.Content
	}
	if u.Completed != nil {
		item.Completed = *u.Completed
	}
	if u.PositionX != nil {
		item.PositionX = *u.PositionX
	}
	if u.PositionY != nil {
		item.PositionY = *u.PositionY
	}
	if u.Priority != nil {
		item.Priority = *u.Priority
	}
	if u.ClearDueDate {
		item.DueDate = nil
	} else if u.DueDate != nil {
		due := *u.DueDate
		item.DueDate = &due
	}
	if u.Images != nil {
		item.Images = append([]string(nil), (*u.Images)...)
	}
	return item
}

type ItemFilter struct {
	WorkspaceID string
	Type        string
	Priority    string
	Completed   *bool
	SortBy      string
}

func setIf[T any](body map[string]any, key string, value *T) {
	if value != nil {
		body[key] = *value
	}
}
