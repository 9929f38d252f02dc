package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"rememberall/api/internal/access"
	"rememberall/api/internal/auth"
	"rememberall/api/internal/authpw"
	"rememberall/api/internal/config"
	"rememberall/api/internal/email"
	"rememberall/api/internal/search"
	"rememberall/api/internal/store"
	"rememberall/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	UserExists(context.Context, string) (bool, error)
	DeleteUser(context.Context, string) error
	CreateList(context.Context, store.List) error
	GetList(context.Context, string) (store.List, error)
	GetListUpdatedAt(context.Context, string) (time.Time, error)
	ListListsForUser(context.Context, string) ([]store.List, error)
	UpdateListName(context.Context, string, string) error
	DeleteList(context.Context, string) error
	HasListAccess(context.Context, string, string) (bool, error)
	CreateItem(context.Context, store.Item) error
	GetItem(context.Context, string) (store.Item, error)
	ListItemsByList(context.Context, string) ([]store.Item, error)
	UpdateItemText(context.Context, string, string, string) error
	MarkItemComplete(context.Context, string, string) error
	MarkItemIncomplete(context.Context, string, string) error
	DeleteItem(context.Context, string, string) error
	GetListAccess(context.Context, string) (store.ListAccess, error)
	ListAccessByUser(context.Context, string) ([]store.ListAccess, error)
	ListAccessByList(context.Context, string) ([]store.ListAccess, error)
	DeleteListAccess(context.Context, string, string) error
	CreateInvite(context.Context, store.Invite) error
	GetInvite(context.Context, string) (store.Invite, error)
	SentInvitesByUser(context.Context, string) ([]store.Invite, error)
	ReceivedInvitesByUser(context.Context, string) ([]store.Invite, error)
	DeleteInvite(context.Context, string, string) error
	AcceptInvite(context.Context, store.Invite, string) error
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (string, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	Ping(ctx context.Context) error
}

// SessionStore holds refresh tokens. The Redis implementation is used when
// configured; otherwise the Postgres store fills the same role.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions SessionStore
	authpw   *authpw.Service
	email    *email.Service
	search   *search.Service
}

// New wires the domain service. sessions may be nil (refresh tokens then
// live in Postgres); searchService may be nil in tests.
func New(cfg config.Config, dataStore *store.PostgresStore, sessions SessionStore, authService *authpw.Service, emailService *email.Service, searchService *search.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		authpw:   authService,
		email:    emailService,
		search:   searchService,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) refreshSessions() SessionStore {
	if s.sessions != nil {
		return s.sessions
	}
	return s.store
}

var errForbidden = domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)

func errNotFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func errValidation(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

func errConflict(message string) *DomainError {
	return domainError(http.StatusConflict, "CONFLICT", message, nil)
}

func errInvalidState(message string) *DomainError {
	return domainError(http.StatusConflict, "INVALID_STATE", message, nil)
}

// Authentication

func (s *Service) Register(ctx context.Context, name, emailAddr, password string) (Session, error) {
	user, err := s.authpw.Register(ctx, authpw.RegisterRequest{
		Name:     name,
		Email:    emailAddr,
		Password: password,
	})
	if errors.Is(err, authpw.ErrEmailTaken) {
		return Session{}, errConflict("Email already registered")
	}
	if err != nil {
		return Session{}, errValidation(err.Error(), nil)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Login(ctx context.Context, emailAddr, password string) (Session, error) {
	user, err := s.authpw.SignIn(ctx, emailAddr, password)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates the refresh token: the presented token is revoked and a
// fresh session is issued in its place.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.refreshSessions().LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	if err := s.refreshSessions().RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.Name,
		Email: user.Email,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.refreshSessions().SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		Email:        user.Email,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		Email:     user.Email,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.refreshSessions().RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Me(ctx context.Context, session Session) (store.User, error) {
	return s.store.GetUserByID(ctx, session.UserID)
}

// DeleteAccount removes the user, their owned lists and everything under
// them. Grants and invites where the user is a non-owning participant are
// cleaned up explicitly by the store before the row can go.
func (s *Service) DeleteAccount(ctx context.Context, session Session) error {
	if err := s.store.DeleteUser(ctx, session.UserID); err != nil {
		return err
	}
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	return nil
}

// Lists

func (s *Service) CreateList(ctx context.Context, session Session, name string) (store.List, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.List{}, errValidation("name is required", nil)
	}
	exists, err := s.store.UserExists(ctx, session.UserID)
	if err != nil {
		return store.List{}, err
	}
	if !exists {
		return store.List{}, errNotFound("User not found")
	}

	list := store.List{
		ID:      util.NewID("lst"),
		OwnerID: session.UserID,
		Name:    name,
	}
	if err := s.store.CreateList(ctx, list); err != nil {
		return store.List{}, err
	}
	return s.store.GetList(ctx, list.ID)
}

// requireListAccess fetches the list and applies the access predicate.
// Not-found wins over forbidden: a missing list is reported as such even
// to callers who could never have seen it.
func (s *Service) requireListAccess(ctx context.Context, userID, listID string) (store.List, error) {
	list, err := s.store.GetList(ctx, listID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.List{}, errNotFound("List not found")
	}
	if err != nil {
		return store.List{}, err
	}
	hasGrant, err := s.store.HasListAccess(ctx, userID, listID)
	if err != nil {
		return store.List{}, err
	}
	if !access.CanUse(userID, list, hasGrant) {
		return store.List{}, errForbidden
	}
	return list, nil
}

func (s *Service) GetList(ctx context.Context, session Session, listID string) (store.List, error) {
	return s.requireListAccess(ctx, session.UserID, listID)
}

// GetListUpdatedAt is the cheap polling read: just the freshness marker,
// no list payload.
func (s *Service) GetListUpdatedAt(ctx context.Context, session Session, listID string) (time.Time, error) {
	updatedAt, err := s.store.GetListUpdatedAt(ctx, listID)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, errNotFound("List not found")
	}
	if err != nil {
		return time.Time{}, err
	}
	hasAccess, err := s.store.HasListAccess(ctx, session.UserID, listID)
	if err != nil {
		return time.Time{}, err
	}
	if !hasAccess {
		return time.Time{}, errForbidden
	}
	return updatedAt, nil
}

func (s *Service) Lists(ctx context.Context, session Session) ([]store.List, error) {
	return s.store.ListListsForUser(ctx, session.UserID)
}

// UpdateList renames a list. Any accessor may rename, not just the owner;
// collaborators are allowed to rename shared lists.
func (s *Service) UpdateList(ctx context.Context, session Session, listID, name string) (store.List, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.List{}, errValidation("name is required", nil)
	}
	if _, err := s.requireListAccess(ctx, session.UserID, listID); err != nil {
		return store.List{}, err
	}
	if err := s.store.UpdateListName(ctx, listID, name); err != nil {
		return store.List{}, err
	}
	return s.store.GetList(ctx, listID)
}

// DeleteList is owner-only. A grant holder may use the list but never
// destroy it.
func (s *Service) DeleteList(ctx context.Context, session Session, listID string) error {
	list, err := s.store.GetList(ctx, listID)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("List not found")
	}
	if err != nil {
		return err
	}
	if !access.IsOwner(session.UserID, list) {
		return errForbidden
	}
	return s.store.DeleteList(ctx, listID)
}

// Items

func (s *Service) CreateItem(ctx context.Context, session Session, listID, text string) (store.Item, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return store.Item{}, errValidation("text is required", nil)
	}
	list, err := s.requireListAccess(ctx, session.UserID, listID)
	if err != nil {
		return store.Item{}, err
	}

	// Bind to the validated list's id, never the raw request field.
	item := store.Item{
		ID:     util.NewID("itm"),
		ListID: list.ID,
		Text:   text,
	}
	if err := s.store.CreateItem(ctx, item); err != nil {
		return store.Item{}, err
	}
	created, err := s.store.GetItem(ctx, item.ID)
	if err != nil {
		return store.Item{}, err
	}
	s.indexItem(list, created)
	return created, nil
}

// requireItemAccess loads the item, resolves its owning list and re-runs
// the access predicate against that list.
func (s *Service) requireItemAccess(ctx context.Context, userID, itemID string) (store.Item, store.List, error) {
	item, err := s.store.GetItem(ctx, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Item{}, store.List{}, errNotFound("Item not found")
	}
	if err != nil {
		return store.Item{}, store.List{}, err
	}
	list, err := s.requireListAccess(ctx, userID, item.ListID)
	if err != nil {
		return store.Item{}, store.List{}, err
	}
	return item, list, nil
}

func (s *Service) ListItems(ctx context.Context, session Session, listID string) ([]store.Item, error) {
	if _, err := s.requireListAccess(ctx, session.UserID, listID); err != nil {
		return nil, err
	}
	return s.store.ListItemsByList(ctx, listID)
}

func (s *Service) UpdateItem(ctx context.Context, session Session, itemID, text string) (store.Item, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return store.Item{}, errValidation("text is required", nil)
	}
	item, list, err := s.requireItemAccess(ctx, session.UserID, itemID)
	if err != nil {
		return store.Item{}, err
	}
	if err := s.store.UpdateItemText(ctx, item.ID, item.ListID, text); err != nil {
		return store.Item{}, err
	}
	updated, err := s.store.GetItem(ctx, item.ID)
	if err != nil {
		return store.Item{}, err
	}
	s.indexItem(list, updated)
	return updated, nil
}

// CompleteItem marks an incomplete item complete and bumps its completion
// counter. Completing an already-complete item is an illegal transition,
// not an idempotent no-op.
func (s *Service) CompleteItem(ctx context.Context, session Session, itemID string) (store.Item, error) {
	item, list, err := s.requireItemAccess(ctx, session.UserID, itemID)
	if err != nil {
		return store.Item{}, err
	}
	if item.IsCompleted {
		return store.Item{}, errInvalidState("Item is already complete")
	}
	if err := s.store.MarkItemComplete(ctx, item.ID, item.ListID); err != nil {
		// A concurrent writer got there first.
		if errors.Is(err, store.ErrConflict) {
			return store.Item{}, errInvalidState("Item is already complete")
		}
		return store.Item{}, err
	}
	updated, err := s.store.GetItem(ctx, item.ID)
	if err != nil {
		return store.Item{}, err
	}
	s.indexItem(list, updated)
	return updated, nil
}

func (s *Service) IncompleteItem(ctx context.Context, session Session, itemID string) (store.Item, error) {
	item, list, err := s.requireItemAccess(ctx, session.UserID, itemID)
	if err != nil {
		return store.Item{}, err
	}
	if !item.IsCompleted {
		return store.Item{}, errInvalidState("Item is already incomplete")
	}
	if err := s.store.MarkItemIncomplete(ctx, item.ID, item.ListID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return store.Item{}, errInvalidState("Item is already incomplete")
		}
		return store.Item{}, err
	}
	updated, err := s.store.GetItem(ctx, item.ID)
	if err != nil {
		return store.Item{}, err
	}
	s.indexItem(list, updated)
	return updated, nil
}

func (s *Service) DeleteItem(ctx context.Context, session Session, itemID string) error {
	item, _, err := s.requireItemAccess(ctx, session.UserID, itemID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteItem(ctx, item.ID, item.ListID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteItem(item.ID)
	}
	return nil
}

func (s *Service) indexItem(list store.List, item store.Item) {
	if s.search == nil {
		return
	}
	s.search.IndexItem(search.ItemRecord{
		ID:          item.ID,
		ListID:      list.ID,
		ListName:    list.Name,
		Text:        item.Text,
		IsCompleted: item.IsCompleted,
	})
}

// Invites

func (s *Service) CreateInvite(ctx context.Context, session Session, listID, receiverID string) (store.Invite, error) {
	list, err := s.requireListAccess(ctx, session.UserID, listID)
	if err != nil {
		return store.Invite{}, err
	}
	receiver, err := s.store.GetUserByID(ctx, receiverID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Invite{}, errNotFound("Receiver not found")
	}
	if err != nil {
		return store.Invite{}, err
	}

	invite := store.Invite{
		ID:         util.NewID("inv"),
		SenderID:   session.UserID,
		ReceiverID: receiver.ID,
		ListID:     list.ID,
	}
	if err := s.store.CreateInvite(ctx, invite); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return store.Invite{}, errConflict("An invite for this user and list is already pending")
		}
		return store.Invite{}, err
	}
	created, err := s.store.GetInvite(ctx, invite.ID)
	if err != nil {
		return store.Invite{}, err
	}

	if s.email != nil && s.email.IsConfigured() {
		go func(to, sender, listName string) {
			if err := s.email.SendInviteNotification(to, sender, listName); err != nil {
				log.Printf("email: invite notification to %s: %v", to, err)
			}
		}(receiver.Email, session.UserName, list.Name)
	}
	return created, nil
}

func (s *Service) SentInvites(ctx context.Context, session Session) ([]store.Invite, error) {
	return s.store.SentInvitesByUser(ctx, session.UserID)
}

func (s *Service) ReceivedInvites(ctx context.Context, session Session) ([]store.Invite, error) {
	return s.store.ReceivedInvitesByUser(ctx, session.UserID)
}

// AcceptInvite converts the invite into a grant, atomically. Acceptance is
// refused when the recorded sender no longer owns the list, so access is
// never granted on stale authority.
func (s *Service) AcceptInvite(ctx context.Context, session Session, inviteID string) error {
	invite, err := s.store.GetInvite(ctx, inviteID)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("Invite not found")
	}
	if err != nil {
		return err
	}
	if !access.CanAcceptInvite(session.UserID, invite) {
		return errForbidden
	}
	if !access.SenderStillOwns(invite) {
		return errInvalidState("Invite sender no longer owns the list")
	}
	if err := s.store.AcceptInvite(ctx, invite, util.NewID("acc")); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return errConflict("Access already granted")
		}
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound("Invite not found")
		}
		return err
	}
	return nil
}

// DeleteInvite declines or withdraws a pending invite. Sender and receiver
// may do this; nobody else.
func (s *Service) DeleteInvite(ctx context.Context, session Session, inviteID string) error {
	invite, err := s.store.GetInvite(ctx, inviteID)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("Invite not found")
	}
	if err != nil {
		return err
	}
	if !access.CanDeleteInvite(session.UserID, invite) {
		return errForbidden
	}
	return s.store.DeleteInvite(ctx, invite.ID, invite.ListID)
}

// Grants

// Grants lists access grants. Without a list id it returns the caller's
// own grants; with one it returns every grant on that list, provided the
// caller can use the list.
func (s *Service) Grants(ctx context.Context, session Session, listID string) ([]store.ListAccess, error) {
	if listID == "" {
		return s.store.ListAccessByUser(ctx, session.UserID)
	}
	if _, err := s.requireListAccess(ctx, session.UserID, listID); err != nil {
		return nil, err
	}
	return s.store.ListAccessByList(ctx, listID)
}

// DeleteGrant revokes access. Allowed for the list's owner and for the
// grant's own subject (leaving a shared list); owner access is structural,
// so no grant deletion can ever lock an owner out.
func (s *Service) DeleteGrant(ctx context.Context, session Session, grantID string) error {
	grant, err := s.store.GetListAccess(ctx, grantID)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("Grant not found")
	}
	if err != nil {
		return err
	}
	if !access.CanRevokeGrant(session.UserID, grant) {
		return errForbidden
	}
	return s.store.DeleteListAccess(ctx, grant.ID, grant.ListID)
}

// Search

// SearchItems runs full-text search over items in lists the caller can
// use. When the Meilisearch backend is active the accessible list ids are
// resolved up front and passed as the filter scope; the Postgres fallback
// derives the same scope in SQL.
func (s *Service) SearchItems(ctx context.Context, session Session, text string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	q := search.Query{
		Text:   text,
		UserID: session.UserID,
		Limit:  limit,
		Offset: offset,
	}
	if s.search.MeiliActive() {
		lists, err := s.store.ListListsForUser(ctx, session.UserID)
		if err != nil {
			return search.Response{}, err
		}
		ids := make([]string, 0, len(lists))
		for _, list := range lists {
			ids = append(ids, list.ID)
		}
		q.ListIDs = ids
	}
	return s.search.Search(q), nil
}

// PasswordRequirements describes the password policy for clients.
func (s *Service) PasswordRequirements() string {
	return authpw.PasswordRequirements()
}
