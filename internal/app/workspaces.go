package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"flux/api/internal/email"
	"flux/api/internal/events"
	"flux/api/internal/rbac"
	"flux/api/internal/store"
	"flux/api/internal/util"
)

func (s *Service) ListWorkspaces(ctx context.Context, session Session, userID string) ([]store.Workspace, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errValidation("User ID required", nil)
	}
	if userID != session.UserID {
		return nil, errForbidden("Access denied")
	}
	workspaces, err := s.store.ListWorkspacesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if workspaces == nil {
		workspaces = []store.Workspace{}
	}
	return workspaces, nil
}

// CreateWorkspace makes the caller the owner. A body userId, when present,
// must name the caller.
func (s *Service) CreateWorkspace(ctx context.Context, session Session, req createWorkspaceRequest) (store.Workspace, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := validateRequest(&req, "Name required"); err != nil {
		return store.Workspace{}, err
	}
	if req.UserID != "" && req.UserID != session.UserID {
		return store.Workspace{}, errForbidden("Access denied")
	}

	workspace, err := s.insertWorkspace(ctx, req.Name, session.UserID)
	if err != nil {
		return store.Workspace{}, err
	}
	s.publish(ctx, events.TopicWorkspaceCreated, workspace.ID, session.UserID, workspace.ID, map[string]any{
		"name": workspace.Name,
		"slug": workspace.Slug,
	})
	return workspace, nil
}

// slugAttempts bounds how many later millisecond suffixes are tried when
// workspaces with the same name are created in the same millisecond.
const slugAttempts = 5

func (s *Service) insertWorkspace(ctx context.Context, name, ownerID string) (store.Workspace, error) {
	at := time.Now()
	for attempt := 0; ; attempt++ {
		workspace := store.Workspace{
			Name:    name,
			Slug:    util.WorkspaceSlug(name, at.Add(time.Duration(attempt)*time.Millisecond)),
			OwnerID: ownerID,
		}
		err := s.store.CreateWorkspace(ctx, &workspace)
		if errors.Is(err, store.ErrSlugTaken) && attempt+1 < slugAttempts {
			continue
		}
		if errors.Is(err, store.ErrSlugTaken) {
			return store.Workspace{}, domainError(http.StatusConflict, codeConflict, "Workspace slug already taken, try again", nil)
		}
		return workspace, err
	}
}

// DeleteWorkspace removes the workspace rows, then its page history, uploads
// and search entries. Cleanup failures after the commit are only logged.
func (s *Service) DeleteWorkspace(ctx context.Context, session Session, workspaceID string) error {
	if strings.TrimSpace(workspaceID) == "" {
		return errValidation("Workspace ID required", nil)
	}
	if _, err := s.authorize(ctx, workspaceID, session.UserID, rbac.ActionDeleteWorkspace, "Only the workspace owner can delete it"); err != nil {
		return err
	}

	pages, err := s.store.ListPages(ctx, workspaceID, true)
	if err != nil {
		return err
	}
	if err := s.store.DeleteWorkspace(ctx, workspaceID); err != nil {
		return err
	}

	log := s.log.With(zap.String("workspace_id", workspaceID))
	for _, page := range pages {
		s.search.DeletePage(page.ID)
	}
	if s.history != nil {
		if err := s.history.Remove(workspaceID); err != nil {
			log.Warn("remove page history", zap.Error(err))
		}
	}
	if s.uploads != nil {
		if err := s.uploads.RemoveWorkspace(ctx, workspaceID); err != nil {
			log.Warn("remove uploads", zap.Error(err))
		}
	}
	s.publish(ctx, events.TopicWorkspaceDeleted, workspaceID, session.UserID, workspaceID, nil)
	return nil
}

func (s *Service) ListMembers(ctx context.Context, session Session, workspaceID string) ([]store.WorkspaceMember, error) {
	if strings.TrimSpace(workspaceID) == "" {
		return nil, errValidation("Workspace ID required", nil)
	}
	if _, err := s.authorize(ctx, workspaceID, session.UserID, rbac.ActionRead, "Access denied"); err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if members == nil {
		members = []store.WorkspaceMember{}
	}
	return members, nil
}

// InviteMember adds an existing user to the workspace. Users are never
// created here; they must have signed in at least once.
func (s *Service) InviteMember(ctx context.Context, session Session, req inviteRequest) (store.WorkspaceMember, error) {
	req.Email = strings.TrimSpace(req.Email)
	if err := validateRequest(&req, "Workspace ID and email required"); err != nil {
		return store.WorkspaceMember{}, err
	}
	if req.Role == "" {
		req.Role = string(rbac.RoleMember)
	}
	if !rbac.Assignable(req.Role) {
		return store.WorkspaceMember{}, errValidation("Invalid role", nil)
	}
	if _, err := s.authorize(ctx, req.WorkspaceID, session.UserID, rbac.ActionInvite, "Only owners and admins can invite members"); err != nil {
		return store.WorkspaceMember{}, err
	}

	invitee, err := s.store.GetUserByEmail(ctx, req.Email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.WorkspaceMember{}, errNotFound("User not found. They need to create an account first")
	}
	if err != nil {
		return store.WorkspaceMember{}, err
	}

	member := store.WorkspaceMember{
		WorkspaceID: req.WorkspaceID,
		UserID:      invitee.ID,
		Role:        req.Role,
	}
	if err := s.store.AddMember(ctx, &member); err != nil {
		if errors.Is(err, store.ErrAlreadyMember) {
			return store.WorkspaceMember{}, errValidation("User is already a member of this workspace", nil)
		}
		return store.WorkspaceMember{}, err
	}
	member.User = &invitee

	s.publish(ctx, events.TopicMemberAdded, req.WorkspaceID, session.UserID, invitee.ID, map[string]any{"role": member.Role})
	s.sendInvite(ctx, session, invitee, member)
	return member, nil
}

func (s *Service) sendInvite(ctx context.Context, inviter Session, invitee store.User, member store.WorkspaceMember) {
	if s.mailer == nil || !s.mailer.IsConfigured() || invitee.Email == "" {
		return
	}
	workspace, err := s.store.GetWorkspace(ctx, member.WorkspaceID)
	if err != nil {
		s.log.Warn("load workspace for invite email", zap.String("workspace_id", member.WorkspaceID), zap.Error(err))
		return
	}
	data := email.InviteData{
		AppName:       "Flux",
		InviteeName:   invitee.Name,
		InviterName:   inviter.Name,
		WorkspaceName: workspace.Name,
		Role:          member.Role,
		WorkspaceURL:  strings.TrimRight(s.appURL, "/") + "/workspace/" + workspace.ID,
	}
	go func() {
		if err := s.mailer.SendInviteEmail(invitee.Email, data); err != nil {
			s.log.Warn("send invite email",
				zap.String("workspace_id", member.WorkspaceID),
				zap.String("user_id", invitee.ID),
				zap.Error(err),
			)
		}
	}()
}

func (s *Service) RemoveMember(ctx context.Context, session Session, workspaceID, userID string) error {
	if strings.TrimSpace(workspaceID) == "" || strings.TrimSpace(userID) == "" {
		return errValidation("Workspace ID and User ID required", nil)
	}
	if _, err := s.authorize(ctx, workspaceID, session.UserID, rbac.ActionRemoveMember, "Only owners and admins can remove members"); err != nil {
		return err
	}

	target, err := s.store.GetMember(ctx, workspaceID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errNotFound("Member not found")
	}
	if err != nil {
		return err
	}
	if rbac.Normalize(target.Role) == rbac.RoleOwner {
		return errForbidden("Cannot remove workspace owner")
	}

	if err := s.store.RemoveMember(ctx, workspaceID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errNotFound("Member not found")
		}
		return err
	}
	s.publish(ctx, events.TopicMemberRemoved, workspaceID, session.UserID, userID, nil)
	return nil
}

func (s *Service) ChangeMemberRole(ctx context.Context, session Session, req changeRoleRequest) (store.WorkspaceMember, error) {
	if err := validateRequest(&req, "Workspace ID, User ID, and role required"); err != nil {
		return store.WorkspaceMember{}, err
	}
	if _, err := s.authorize(ctx, req.WorkspaceID, session.UserID, rbac.ActionChangeRole, "Only workspace owner can change roles"); err != nil {
		return store.WorkspaceMember{}, err
	}
	if !rbac.Assignable(req.Role) {
		return store.WorkspaceMember{}, errValidation("Invalid role", nil)
	}

	target, err := s.store.GetMember(ctx, req.WorkspaceID, req.UserID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.WorkspaceMember{}, errNotFound("Member not found")
	}
	if err != nil {
		return store.WorkspaceMember{}, err
	}
	if rbac.Normalize(target.Role) == rbac.RoleOwner {
		return store.WorkspaceMember{}, errForbidden("Cannot change owner role")
	}

	member, err := s.store.UpdateMemberRole(ctx, req.WorkspaceID, req.UserID, req.Role)
	if err != nil {
		return store.WorkspaceMember{}, err
	}
	s.publish(ctx, events.TopicMemberRoleChanged, req.WorkspaceID, session.UserID, req.UserID, map[string]any{
		"from": target.Role,
		"to":   member.Role,
	})
	return member, nil
}
