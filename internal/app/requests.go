package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Optional distinguishes an absent JSON field from an explicit null.
type Optional[T any] struct {
	Set   bool
	Value *T
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

type createWorkspaceRequest struct {
	Name   string `json:"name" validate:"required,max=120"`
	UserID string `json:"userId"`
}

type createPageRequest struct {
	WorkspaceID string  `json:"workspaceId" validate:"required"`
	Title       string  `json:"title" validate:"max=500"`
	Icon        string  `json:"icon" validate:"max=32"`
	Content     string  `json:"content"`
	ParentID    *string `json:"parentId"`
	Template    string  `json:"template"`
}

type updatePageRequest struct {
	ID         string           `json:"id" validate:"required"`
	Title      *string          `json:"title" validate:"omitempty,max=500"`
	Icon       *string          `json:"icon" validate:"omitempty,max=32"`
	Content    *string          `json:"content"`
	CoverImage *string          `json:"coverImage" validate:"omitempty,max=2048"`
	ParentID   Optional[string] `json:"parentId"`
	Position   *int             `json:"position" validate:"omitempty,min=0"`
	IsArchived *bool            `json:"isArchived"`
}

type createItemRequest struct {
	WorkspaceID string     `json:"workspaceId" validate:"required"`
	UserID      string     `json:"userId"`
	Type        string     `json:"type" validate:"required,oneof=note task link"`
	Title       string     `json:"title" validate:"required,max=500"`
	Content     string     `json:"content" validate:"required"`
	PositionX   float64    `json:"position_x"`
	PositionY   float64    `json:"position_y"`
	Priority    string     `json:"priority" validate:"priority"`
	DueDate     *time.Time `json:"dueDate"`
	Images      []string   `json:"images" validate:"max=5,dive,required,max=2048"`
}

type updateItemRequest struct {
	ID          string              `json:"id" validate:"required"`
	WorkspaceID *string             `json:"workspaceId"`
	UserID      *string             `json:"userId"`
	Type        *string             `json:"type" validate:"omitempty,oneof=note task link"`
	Title       *string             `json:"title" validate:"omitempty,max=500"`
	Content     *string             `json:"content"`
	Completed   *bool               `json:"completed"`
	PositionX   *float64            `json:"position_x"`
	PositionY   *float64            `json:"position_y"`
	Priority    *string             `json:"priority" validate:"omitempty,priority"`
	DueDate     Optional[time.Time] `json:"dueDate"`
	Images      *[]string           `json:"images" validate:"omitempty,max=5,dive,required,max=2048"`
}

type createCommentRequest struct {
	PageID   string  `json:"pageId" validate:"required"`
	Content  string  `json:"content" validate:"required,max=10000"`
	ParentID *string `json:"parentId"`
}

type updateCommentRequest struct {
	ID      string `json:"id" validate:"required"`
	Content string `json:"content" validate:"required,max=10000"`
}

type inviteRequest struct {
	WorkspaceID string `json:"workspaceId" validate:"required"`
	Email       string `json:"email" validate:"required,email"`
	Role        string `json:"role"`
}

type changeRoleRequest struct {
	WorkspaceID string `json:"workspaceId" validate:"required"`
	UserID      string `json:"userId" validate:"required"`
	Role        string `json:"role" validate:"required"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("priority", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "", "low", "medium", "high":
			return true
		default:
			return false
		}
	})
	return v
}

// validateRequest checks req against its struct tags. A missing required
// field reports requiredMessage; other failures name the offending field.
func validateRequest(req any, requiredMessage string) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errValidation("Invalid request", nil)
	}

	details := make([]map[string]string, 0, len(fieldErrs))
	message := ""
	for _, fe := range fieldErrs {
		details = append(details, map[string]string{"field": fe.Field(), "rule": fe.Tag()})
		if fe.Tag() == "required" && message == "" {
			message = requiredMessage
		}
	}
	if message == "" {
		message = fieldMessage(fieldErrs[0])
	}
	return errValidation(message, details)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s allows at most %s entries", fe.Field(), fe.Param())
		}
		return fmt.Sprintf("%s is too long", fe.Field())
	case "email":
		return "Invalid email address"
	case "priority":
		return "priority must be one of: low medium high"
	default:
		return fmt.Sprintf("Invalid %s", fe.Field())
	}
}
