package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"flux/api/internal/auth"
	"flux/api/internal/blob"
	"flux/api/internal/email"
	"flux/api/internal/events"
	"flux/api/internal/export"
	"flux/api/internal/gitrepo"
	"flux/api/internal/rbac"
	"flux/api/internal/search"
	"flux/api/internal/store"
)

type Session struct {
	Token     string
	UserID    string
	Name      string
	Email     string
	Image     string
	JTI       string
	ExpiresAt time.Time
}

// TokenRevoker remembers logged-out access tokens until they expire.
type TokenRevoker interface {
	Revoke(ctx context.Context, jti, userID string, exp time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type pageHistory interface {
	Record(workspaceID, pageID string, snap gitrepo.Snapshot, author gitrepo.Author, message string) (*gitrepo.Revision, error)
	History(workspaceID, pageID string, limit int) ([]gitrepo.Revision, error)
	SnapshotAt(workspaceID, pageID, hash string) (gitrepo.Snapshot, error)
	Remove(workspaceID string) error
}

type uploader interface {
	Upload(ctx context.Context, workspaceID, contentType string, body io.Reader, size int64) (blob.Object, error)
	RemoveWorkspace(ctx context.Context, workspaceID string) error
}

type inviteMailer interface {
	IsConfigured() bool
	SendInviteEmail(to string, data email.InviteData) error
}

type exporter interface {
	Export(ctx context.Context, doc export.Document, format export.Format) (*export.Result, error)
}

type Options struct {
	JWTSecret string
	AppURL    string

	Store   *store.Store
	Policy  rbac.Authorizer
	Revoker TokenRevoker
	Search  *search.Service
	Export  exporter
	History pageHistory
	Uploads uploader
	Events  events.Publisher
	Mailer  inviteMailer
}

type Service struct {
	log       *zap.Logger
	jwtSecret []byte
	appURL    string

	store   *store.Store
	policy  rbac.Authorizer
	revoker TokenRevoker
	search  *search.Service
	export  exporter
	history pageHistory
	uploads uploader
	events  events.Publisher
	mailer  inviteMailer
}

func New(opts Options) *Service {
	s := &Service{
		log:       zap.L().With(zap.String("component", "app")),
		jwtSecret: []byte(opts.JWTSecret),
		appURL:    opts.AppURL,
		store:     opts.Store,
		policy:    opts.Policy,
		revoker:   opts.Revoker,
		search:    opts.Search,
		export:    opts.Export,
		history:   opts.History,
		uploads:   opts.Uploads,
		events:    opts.Events,
		mailer:    opts.Mailer,
	}
	if s.policy == nil {
		s.policy = rbac.Matrix{}
	}
	if s.revoker == nil {
		s.revoker = storeRevoker{opts.Store}
	}
	if s.search == nil {
		s.search = search.NewService(nil, opts.Store)
	}
	if s.export == nil {
		s.export = export.NewService()
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	return s
}

// Authenticate verifies a bearer token and refreshes the caller's profile
// from its claims.
func (s *Service) Authenticate(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken(s.jwtSecret, token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	if err := s.store.UpsertUser(ctx, store.User{
		ID:    claims.Subject,
		Name:  claims.Name,
		Email: claims.Email,
		Image: claims.Picture,
	}); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			return Session{}, domainError(http.StatusConflict, codeConflict, "Email already belongs to another account", nil)
		}
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    claims.Subject,
		Name:      claims.Name,
		Email:     claims.Email,
		Image:     claims.Picture,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session) error {
	if session.JTI == "" {
		return nil
	}
	return s.revoker.Revoke(ctx, session.JTI, session.UserID, session.ExpiresAt)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SearchHealthy() bool {
	return s.search.Healthy()
}

// resolveRole returns the caller's role in the workspace, or false when the
// caller is not a member.
func (s *Service) resolveRole(ctx context.Context, workspaceID, userID string) (rbac.Role, bool, error) {
	member, err := s.store.GetMember(ctx, workspaceID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return rbac.Normalize(member.Role), true, nil
}

// authorize requires membership (403 "Access denied") and a role allowed to
// perform action (403 with denied).
func (s *Service) authorize(ctx context.Context, workspaceID, userID string, action rbac.Action, denied string) (rbac.Role, error) {
	role, ok, err := s.resolveRole(ctx, workspaceID, userID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errForbidden("Access denied")
	}
	allowed, err := s.policy.Allowed(ctx, role, action)
	if err != nil {
		return "", err
	}
	if !allowed {
		return "", errForbidden(denied)
	}
	return role, nil
}

// publish never fails the caller; event delivery is best effort.
func (s *Service) publish(ctx context.Context, topic, workspaceID, actorID, subjectID string, data any) {
	event := events.New(topic, workspaceID, actorID, subjectID, data)
	if err := s.events.Publish(ctx, event); err != nil {
		s.log.Warn("publish event",
			zap.String("topic", topic),
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
	}
}

type storeRevoker struct {
	store *store.Store
}

func (r storeRevoker) Revoke(ctx context.Context, jti, _ string, exp time.Time) error {
	return r.store.RevokeAccessToken(ctx, jti, exp)
}

func (r storeRevoker) IsRevoked(ctx context.Context, jti string) (bool, error) {
	return r.store.IsAccessTokenRevoked(ctx, jti)
}
