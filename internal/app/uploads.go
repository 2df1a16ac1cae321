package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"flux/api/internal/blob"
	"flux/api/internal/rbac"
)

func (s *Service) UploadsEnabled() bool {
	return s.uploads != nil
}

// UploadImage stores a page cover or item image for the workspace.
func (s *Service) UploadImage(ctx context.Context, session Session, workspaceID, contentType string, body io.Reader, size int64) (blob.Object, error) {
	if s.uploads == nil {
		return blob.Object{}, domainError(http.StatusServiceUnavailable, codeUnavailable, "Uploads are not configured", nil)
	}
	if strings.TrimSpace(workspaceID) == "" {
		return blob.Object{}, errValidation("Workspace ID required", nil)
	}
	if _, err := s.authorize(ctx, workspaceID, session.UserID, rbac.ActionWrite, "Viewers cannot upload files"); err != nil {
		return blob.Object{}, err
	}

	object, err := s.uploads.Upload(ctx, workspaceID, contentType, body, size)
	switch {
	case errors.Is(err, blob.ErrUnsupportedType):
		return blob.Object{}, errValidation("Only PNG, JPEG, GIF and WebP images are accepted", nil)
	case errors.Is(err, blob.ErrTooLarge):
		return blob.Object{}, domainError(http.StatusRequestEntityTooLarge, codeValidation, "File is too large", map[string]int64{"maxBytes": blob.MaxUploadBytes})
	case err != nil:
		return blob.Object{}, err
	}
	return object, nil
}
