package app

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"rememberall/api/internal/authpw"
	"rememberall/api/internal/config"
	"rememberall/api/internal/store"
)

type fakeStore struct {
	getUserByIDFn           func(context.Context, string) (store.User, error)
	getUserByEmailFn        func(context.Context, string) (store.User, error)
	createUserFn            func(context.Context, store.User) error
	userExistsFn            func(context.Context, string) (bool, error)
	deleteUserFn            func(context.Context, string) error
	createListFn            func(context.Context, store.List) error
	getListFn               func(context.Context, string) (store.List, error)
	getListUpdatedAtFn      func(context.Context, string) (time.Time, error)
	listListsForUserFn      func(context.Context, string) ([]store.List, error)
	updateListNameFn        func(context.Context, string, string) error
	deleteListFn            func(context.Context, string) error
	hasListAccessFn         func(context.Context, string, string) (bool, error)
	createItemFn            func(context.Context, store.Item) error
	getItemFn               func(context.Context, string) (store.Item, error)
	listItemsByListFn       func(context.Context, string) ([]store.Item, error)
	updateItemTextFn        func(context.Context, string, string, string) error
	markItemCompleteFn      func(context.Context, string, string) error
	markItemIncompleteFn    func(context.Context, string, string) error
	deleteItemFn            func(context.Context, string, string) error
	getListAccessFn         func(context.Context, string) (store.ListAccess, error)
	listAccessByUserFn      func(context.Context, string) ([]store.ListAccess, error)
	listAccessByListFn      func(context.Context, string) ([]store.ListAccess, error)
	deleteListAccessFn      func(context.Context, string, string) error
	createInviteFn          func(context.Context, store.Invite) error
	getInviteFn             func(context.Context, string) (store.Invite, error)
	sentInvitesByUserFn     func(context.Context, string) ([]store.Invite, error)
	receivedInvitesByUserFn func(context.Context, string) ([]store.Invite, error)
	deleteInviteFn          func(context.Context, string, string) error
	acceptInviteFn          func(context.Context, store.Invite, string) error
	saveRefreshSessionFn    func(context.Context, string, string, time.Time) error
	lookupRefreshSessionFn  func(context.Context, string) (string, error)
	revokeRefreshSessionFn  func(context.Context, string) error
	revokeAccessTokenFn     func(context.Context, string, time.Time) error
	isAccessTokenRevokedFn  func(context.Context, string) (bool, error)
}

func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{ID: userID, Name: "User", Email: userID + "@example.com"}, nil
}
func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) CreateUser(ctx context.Context, user store.User) error {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user)
	}
	return nil
}
func (f *fakeStore) UserExists(ctx context.Context, userID string) (bool, error) {
	if f.userExistsFn != nil {
		return f.userExistsFn(ctx, userID)
	}
	return true, nil
}
func (f *fakeStore) DeleteUser(ctx context.Context, userID string) error {
	if f.deleteUserFn != nil {
		return f.deleteUserFn(ctx, userID)
	}
	return nil
}
func (f *fakeStore) CreateList(ctx context.Context, list store.List) error {
	if f.createListFn != nil {
		return f.createListFn(ctx, list)
	}
	return nil
}
func (f *fakeStore) GetList(ctx context.Context, listID string) (store.List, error) {
	if f.getListFn != nil {
		return f.getListFn(ctx, listID)
	}
	return store.List{}, sql.ErrNoRows
}
func (f *fakeStore) GetListUpdatedAt(ctx context.Context, listID string) (time.Time, error) {
	if f.getListUpdatedAtFn != nil {
		return f.getListUpdatedAtFn(ctx, listID)
	}
	return time.Time{}, sql.ErrNoRows
}
func (f *fakeStore) ListListsForUser(ctx context.Context, userID string) ([]store.List, error) {
	if f.listListsForUserFn != nil {
		return f.listListsForUserFn(ctx, userID)
	}
	return nil, nil
}
func (f *fakeStore) UpdateListName(ctx context.Context, listID, name string) error {
	if f.updateListNameFn != nil {
		return f.updateListNameFn(ctx, listID, name)
	}
	return nil
}
func (f *fakeStore) DeleteList(ctx context.Context, listID string) error {
	if f.deleteListFn != nil {
		return f.deleteListFn(ctx, listID)
	}
	return nil
}
func (f *fakeStore) HasListAccess(ctx context.Context, userID, listID string) (bool, error) {
	if f.hasListAccessFn != nil {
		return f.hasListAccessFn(ctx, userID, listID)
	}
	return false, nil
}
func (f *fakeStore) CreateItem(ctx context.Context, item store.Item) error {
	if f.createItemFn != nil {
		return f.createItemFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) GetItem(ctx context.Context, itemID string) (store.Item, error) {
	if f.getItemFn != nil {
		return f.getItemFn(ctx, itemID)
	}
	return store.Item{}, sql.ErrNoRows
}
func (f *fakeStore) ListItemsByList(ctx context.Context, listID string) ([]store.Item, error) {
	if f.listItemsByListFn != nil {
		return f.listItemsByListFn(ctx, listID)
	}
	return nil, nil
}
func (f *fakeStore) UpdateItemText(ctx context.Context, itemID, listID, text string) error {
	if f.updateItemTextFn != nil {
		return f.updateItemTextFn(ctx, itemID, listID, text)
	}
	return nil
}
func (f *fakeStore) MarkItemComplete(ctx context.Context, itemID, listID string) error {
	if f.markItemCompleteFn != nil {
		return f.markItemCompleteFn(ctx, itemID, listID)
	}
	return nil
}
func (f *fakeStore) MarkItemIncomplete(ctx context.Context, itemID, listID string) error {
	if f.markItemIncompleteFn != nil {
		return f.markItemIncompleteFn(ctx, itemID, listID)
	}
	return nil
}
func (f *fakeStore) DeleteItem(ctx context.Context, itemID, listID string) error {
	if f.deleteItemFn != nil {
		return f.deleteItemFn(ctx, itemID, listID)
	}
	return nil
}
func (f *fakeStore) GetListAccess(ctx context.Context, grantID string) (store.ListAccess, error) {
	if f.getListAccessFn != nil {
		return f.getListAccessFn(ctx, grantID)
	}
	return store.ListAccess{}, sql.ErrNoRows
}
func (f *fakeStore) ListAccessByUser(ctx context.Context, userID string) ([]store.ListAccess, error) {
	if f.listAccessByUserFn != nil {
		return f.listAccessByUserFn(ctx, userID)
	}
	return nil, nil
}
func (f *fakeStore) ListAccessByList(ctx context.Context, listID string) ([]store.ListAccess, error) {
	if f.listAccessByListFn != nil {
		return f.listAccessByListFn(ctx, listID)
	}
	return nil, nil
}
func (f *fakeStore) DeleteListAccess(ctx context.Context, grantID, listID string) error {
	if f.deleteListAccessFn != nil {
		return f.deleteListAccessFn(ctx, grantID, listID)
	}
	return nil
}
func (f *fakeStore) CreateInvite(ctx context.Context, invite store.Invite) error {
	if f.createInviteFn != nil {
		return f.createInviteFn(ctx, invite)
	}
	return nil
}
func (f *fakeStore) GetInvite(ctx context.Context, inviteID string) (store.Invite, error) {
	if f.getInviteFn != nil {
		return f.getInviteFn(ctx, inviteID)
	}
	return store.Invite{}, sql.ErrNoRows
}
func (f *fakeStore) SentInvitesByUser(ctx context.Context, userID string) ([]store.Invite, error) {
	if f.sentInvitesByUserFn != nil {
		return f.sentInvitesByUserFn(ctx, userID)
	}
	return nil, nil
}
func (f *fakeStore) ReceivedInvitesByUser(ctx context.Context, userID string) ([]store.Invite, error) {
	if f.receivedInvitesByUserFn != nil {
		return f.receivedInvitesByUserFn(ctx, userID)
	}
	return nil, nil
}
func (f *fakeStore) DeleteInvite(ctx context.Context, inviteID, listID string) error {
	if f.deleteInviteFn != nil {
		return f.deleteInviteFn(ctx, inviteID, listID)
	}
	return nil
}
func (f *fakeStore) AcceptInvite(ctx context.Context, invite store.Invite, grantID string) error {
	if f.acceptInviteFn != nil {
		return f.acceptInviteFn(ctx, invite, grantID)
	}
	return nil
}
func (f *fakeStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	if f.saveRefreshSessionFn != nil {
		return f.saveRefreshSessionFn(ctx, tokenHash, userID, expiresAt)
	}
	return nil
}
func (f *fakeStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	if f.lookupRefreshSessionFn != nil {
		return f.lookupRefreshSessionFn(ctx, tokenHash)
	}
	return "", sql.ErrNoRows
}
func (f *fakeStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if f.revokeRefreshSessionFn != nil {
		return f.revokeRefreshSessionFn(ctx, tokenHash)
	}
	return nil
}
func (f *fakeStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	if f.revokeAccessTokenFn != nil {
		return f.revokeAccessTokenFn(ctx, jti, exp)
	}
	return nil
}
func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if f.isAccessTokenRevokedFn != nil {
		return f.isAccessTokenRevokedFn(ctx, jti)
	}
	return false, nil
}
func (f *fakeStore) Ping(context.Context) error { return nil }

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg: config.Config{
			TokenSecret: "test-secret",
			AccessTTL:   time.Hour,
			RefreshTTL:  24 * time.Hour,
		},
		store:  fs,
		authpw: authpw.NewService(fs),
	}
}

func asDomainError(t *testing.T, err error) *DomainError {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	domainErr, ok := err.(*DomainError)
	if !ok {
		t.Fatalf("expected *DomainError, got %T: %v", err, err)
	}
	return domainErr
}

func TestGetListNotFoundBeforeForbidden(t *testing.T) {
	// The list does not exist; even a caller with no conceivable access
	// learns "not found", never "forbidden".
	fs := &fakeStore{}
	svc := newTestService(fs)

	_, err := svc.GetList(context.Background(), Session{UserID: "usr_bob"}, "lst_missing")
	domainErr := asDomainError(t, err)
	if domainErr.Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %s", domainErr.Code)
	}
}

func TestGetListForbiddenForStranger(t *testing.T) {
	fs := &fakeStore{
		getListFn: func(_ context.Context, listID string) (store.List, error) {
			return store.List{ID: listID, OwnerID: "usr_alice", Name: "Shopping"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.GetList(context.Background(), Session{UserID: "usr_bob"}, "lst_1")
	domainErr := asDomainError(t, err)
	if domainErr.Code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN, got %s", domainErr.Code)
	}
}

func TestGetListAllowsOwnerAndGrantHolder(t *testing.T) {
	fs := &fakeStore{
		getListFn: func(_ context.Context, listID string) (store.List, error) {
			return store.List{ID: listID, OwnerID: "usr_alice", Name: "Shopping"}, nil
		},
		hasListAccessFn: func(_ context.Context, userID, _ string) (bool, error) {
			return userID == "usr_alice" || userID == "usr_bob", nil
		},
	}
	svc := newTestService(fs)

	for _, userID := range []string{"usr_alice", "usr_bob"} {
		list, err := svc.GetList(context.Background(), Session{UserID: userID}, "lst_1")
		if err != nil {
			t.Fatalf("GetList(%s) error = %v", userID, err)
		}
		if list.ID != "lst_1" {
			t.Fatalf("expected lst_1, got %s", list.ID)
		}
	}
}

func TestDeleteListOwnerOnly(t *testing.T) {
	deleteCalls := 0
	fs := &fakeStore{
		getListFn: func(_ context.Context, listID string) (store.List, error) {
			return store.List{ID: listID, OwnerID: "usr_alice"}, nil
		},
		hasListAccessFn: func(context.Context, string, string) (bool, error) {
			// Bob holds a grant; it must not be enough to delete.
			return true, nil
		},
		deleteListFn: func(context.Context, string) error {
			deleteCalls++
			return nil
		},
	}
	svc := newTestService(fs)

	err := svc.DeleteList(context.Background(), Session{UserID: "usr_bob"}, "lst_1")
	domainErr := asDomainError(t, err)
	if domainErr.Code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN for grant holder, got %s", domainErr.Code)
	}
	if deleteCalls != 0 {
		t.Fatalf("expected no delete call, got %d", deleteCalls)
	}

	if err := svc.DeleteList(context.Background(), Session{UserID: "usr_alice"}, "lst_1"); err != nil {
		t.Fatalf("owner delete error = %v", err)
	}
	if deleteCalls != 1 {
		t.Fatalf("expected one delete call, got %d", deleteCalls)
	}
}

func TestUpdateListAllowsAnyAccessor(t *testing.T) {
	var renamedTo string
	fs := &fakeStore{
		getListFn: func(_ context.Context, listID string) (store.List, error) {
			return store.List{ID: listID, OwnerID: "usr_alice", Name: "Groceries"}, nil
		},
		hasListAccessFn: func(_ context.Context, userID, _ string) (bool, error) {
			return userID == "usr_bob", nil
		},
		updateListNameFn: func(_ context.Context, _, name string) error {
			renamedTo = name
			return nil
		},
	}
	svc := newTestService(fs)

	if _, err := svc.UpdateList(context.Background(), Session{UserID: "usr_bob"}, "lst_1", "  Weekend Groceries "); err != nil {
		t.Fatalf("UpdateList() error = %v", err)
	}
	if renamedTo != "Weekend Groceries" {
		t.Fatalf("expected trimmed rename, got %q", renamedTo)
	}
}

func TestCreateListRejectsBlankName(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, err := svc.CreateList(context.Background(), Session{UserID: "usr_alice"}, "   ")
	domainErr := asDomainError(t, err)
	if domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %s", domainErr.Code)
	}
}

func TestCreateItemBindsToValidatedList(t *testing.T) {
	var createdItem store.Item
	fs := &fakeStore{
		getListFn: func(context.Context, string) (store.List, error) {
			return store.List{ID: "lst_real", OwnerID: "usr_alice"}, nil
		},
		hasListAccessFn: func(context.Context, string, string) (bool, error) {
			return true, nil
		},
		createItemFn: func(_ context.Context, item store.Item) error {
			createdItem = item
			return nil
		},
		getItemFn: func(_ context.Context, itemID string) (store.Item, error) {
			return store.Item{ID: itemID, ListID: "lst_real", Text: "Buy milk"}, nil
		},
	}
	svc := newTestService(fs)

	if _, err := svc.CreateItem(context.Background(), Session{UserID: "usr_alice"}, "lst_real", "Buy milk"); err != nil {
		t.Fatalf("CreateItem() error = %v", err)
	}
	if createdItem.ListID != "lst_real" {
		t.Fatalf("expected item bound to validated list id, got %q", createdItem.ListID)
	}
}

func TestCompleteItemRejectsAlreadyComplete(t *testing.T) {
	markCalls := 0
	fs := &fakeStore{
		getItemFn: func(_ context.Context, itemID string) (store.Item, error) {
			return store.Item{ID: itemID, ListID: "lst_1", IsCompleted: true, CompletionCount: 3}, nil
		},
		getListFn: func(context.Context, string) (store.List, error) {
			return store.List{ID: "lst_1", OwnerID: "usr_alice"}, nil
		},
		hasListAccessFn: func(context.Context, string, string) (bool, error) {
			return true, nil
		},
		markItemCompleteFn: func(context.Context, string, string) error {
			markCalls++
			return nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.CompleteItem(context.Background(), Session{UserID: "usr_alice"}, "itm_1")
	domainErr := asDomainError(t, err)
	if domainErr.Code != "INVALID_STATE" {
		t.Fatalf("expected INVALID_STATE, got %s", domainErr.Code)
	}
	if markCalls != 0 {
		t.Fatalf("expected no MarkItemComplete call, got %d", markCalls)
	}
}

func TestCompleteItemConcurrentLoserGetsInvalidState(t *testing.T) {
	// The snapshot said incomplete, but another writer completed the item
	// between the read and the guarded update.
	fs := &fakeStore{
		getItemFn: func(_ context.Context, itemID string) (store.Item, error) {
			return store.Item{ID: itemID, ListID: "lst_1", IsCompleted: false}, nil
		},
		getListFn: func(context.Context, string) (store.List, error) {
			return store.List{ID: "lst_1", OwnerID: "usr_alice"}, nil
		},
		hasListAccessFn: func(context.Context, string, string) (bool, error) {
			return true, nil
		},
		markItemCompleteFn: func(context.Context, string, string) error {
			return store.ErrConflict
		},
	}
	svc := newTestService(fs)

	_, err := svc.CompleteItem(context.Background(), Session{UserID: "usr_alice"}, "itm_1")
	domainErr := asDomainError(t, err)
	if domainErr.Code != "INVALID_STATE" {
		t.Fatalf("expected INVALID_STATE, got %s", domainErr.Code)
	}
}

func TestIncompleteItemRejectsAlreadyIncomplete(t *testing.T) {
	fs := &fakeStore{
		getItemFn: func(_ context.Context, itemID string) (store.Item, error) {
			return store.Item{ID: itemID, ListID: "lst_1", IsCompleted: false}, nil
		},
		getListFn: func(context.Context, string) (store.List, error) {
			return store.List{ID: "lst_1", OwnerID: "usr_alice"}, nil
		},
		hasListAccessFn: func(context.Context, string, string) (bool, error) {
			return true, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.IncompleteItem(context.Background(), Session{UserID: "usr_alice"}, "itm_1")
	domainErr := asDomainError(t, err)
	if domainErr.Code != "INVALID_STATE" {
		t.Fatalf("expected INVALID_STATE, got %s", domainErr.Code)
	}
}

func TestCreateInviteReceiverMustExist(t *testing.T) {
	fs := &fakeStore{
		getListFn: func(_ context.Context, listID string) (store.List, error) {
			return store.List{ID: listID, OwnerID: "usr_alice"}, nil
		},
		hasListAccessFn: func(context.Context, string, string) (bool, error) {
			return true, nil
		},
		getUserByIDFn: func(context.Context, string) (store.User, error) {
			return store.User{}, sql.ErrNoRows
		},
	}
	svc := newTestService(fs)

	_, err := svc.CreateInvite(context.Background(), Session{UserID: "usr_alice"}, "lst_1", "usr_ghost")
	domainErr := asDomainError(t, err)
	if domainErr.Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %s", domainErr.Code)
	}
}

func TestCreateInviteRequiresSenderAccess(t *testing.T) {
	fs := &fakeStore{
		getListFn: func(_ context.Context, listID string) (store.List, error) {
			return store.List{ID: listID, OwnerID: "usr_alice"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.CreateInvite(context.Background(), Session{UserID: "usr_mallory"}, "lst_1", "usr_bob")
	domainErr := asDomainError(t, err)
	if domainErr.Code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN, got %s", domainErr.Code)
	}
}

func TestCreateInviteDuplicateIsConflict(t *testing.T) {
	fs := &fakeStore{
		getListFn: func(_ context.Context, listID string) (store.List, error) {
			return store.List{ID: listID, OwnerID: "usr_alice"}, nil
		},
		hasListAccessFn: func(context.Context, string, string) (bool, error) {
			return true, nil
		},
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, Name: "Bob"}, nil
		},
		createInviteFn: func(context.Context, store.Invite) error {
			return store.ErrConflict
		},
	}
	svc := newTestService(fs)

	_, err := svc.CreateInvite(context.Background(), Session{UserID: "usr_alice"}, "lst_1", "usr_bob")
	domainErr := asDomainError(t, err)
	if domainErr.Code != "CONFLICT" {
		t.Fatalf("expected CONFLICT, got %s", domainErr.Code)
	}
}

func TestAcceptInviteReceiverOnly(t *testing.T) {
	invite := store.Invite{
		ID:          "inv_1",
		SenderID:    "usr_alice",
		ReceiverID:  "usr_bob",
		ListID:      "lst_1",
		ListOwnerID: "usr_alice",
	}
	acceptCalls := 0
	fs := &fakeStore{
		getInviteFn: func(context.Context, string) (store.Invite, error) {
			return invite, nil
		},
		acceptInviteFn: func(context.Context, store.Invite, string) error {
			acceptCalls++
			return nil
		},
	}
	svc := newTestService(fs)

	// Neither the sender nor a bystander may accept.
	for _, userID := range []string{"usr_alice", "usr_mallory"} {
		err := svc.AcceptInvite(context.Background(), Session{UserID: userID}, "inv_1")
		domainErr := asDomainError(t, err)
		if domainErr.Code != "FORBIDDEN" {
			t.Fatalf("expected FORBIDDEN for %s, got %s", userID, domainErr.Code)
		}
	}
	if acceptCalls != 0 {
		t.Fatalf("expected no accept call, got %d", acceptCalls)
	}

	if err := svc.AcceptInvite(context.Background(), Session{UserID: "usr_bob"}, "inv_1"); err != nil {
		t.Fatalf("receiver accept error = %v", err)
	}
	if acceptCalls != 1 {
		t.Fatalf("expected one accept call, got %d", acceptCalls)
	}
}

func TestAcceptInviteRejectsStaleSender(t *testing.T) {
	// Ownership moved since the invite was issued; the recorded sender no
	// longer has the authority the invite claims.
	fs := &fakeStore{
		getInviteFn: func(context.Context, string) (store.Invite, error) {
			return store.Invite{
				ID:          "inv_1",
				SenderID:    "usr_alice",
				ReceiverID:  "usr_bob",
				ListID:      "lst_1",
				ListOwnerID: "usr_carol",
			}, nil
		},
	}
	svc := newTestService(fs)

	err := svc.AcceptInvite(context.Background(), Session{UserID: "usr_bob"}, "inv_1")
	domainErr := asDomainError(t, err)
	if domainErr.Code != "INVALID_STATE" {
		t.Fatalf("expected INVALID_STATE, got %s", domainErr.Code)
	}
}

func TestAcceptInviteDuplicateGrantIsConflict(t *testing.T) {
	fs := &fakeStore{
		getInviteFn: func(context.Context, string) (store.Invite, error) {
			return store.Invite{
				ID:          "inv_1",
				SenderID:    "usr_alice",
				ReceiverID:  "usr_bob",
				ListID:      "lst_1",
				ListOwnerID: "usr_alice",
			}, nil
		},
		acceptInviteFn: func(context.Context, store.Invite, string) error {
			return store.ErrConflict
		},
	}
	svc := newTestService(fs)

	err := svc.AcceptInvite(context.Background(), Session{UserID: "usr_bob"}, "inv_1")
	domainErr := asDomainError(t, err)
	if domainErr.Code != "CONFLICT" {
		t.Fatalf("expected CONFLICT, got %s", domainErr.Code)
	}
}

func TestDeleteInviteSenderOrReceiverOnly(t *testing.T) {
	deleteCalls := 0
	fs := &fakeStore{
		getInviteFn: func(context.Context, string) (store.Invite, error) {
			return store.Invite{
				ID:         "inv_1",
				SenderID:   "usr_alice",
				ReceiverID: "usr_bob",
				ListID:     "lst_1",
			}, nil
		},
		deleteInviteFn: func(context.Context, string, string) error {
			deleteCalls++
			return nil
		},
	}
	svc := newTestService(fs)

	err := svc.DeleteInvite(context.Background(), Session{UserID: "usr_mallory"}, "inv_1")
	domainErr := asDomainError(t, err)
	if domainErr.Code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN, got %s", domainErr.Code)
	}

	for _, userID := range []string{"usr_alice", "usr_bob"} {
		if err := svc.DeleteInvite(context.Background(), Session{UserID: userID}, "inv_1"); err != nil {
			t.Fatalf("DeleteInvite(%s) error = %v", userID, err)
		}
	}
	if deleteCalls != 2 {
		t.Fatalf("expected two delete calls, got %d", deleteCalls)
	}
}

func TestDeleteGrantAuthorizationMatrix(t *testing.T) {
	grant := store.ListAccess{
		ID:          "acc_1",
		UserID:      "usr_bob",
		ListID:      "lst_1",
		ListOwnerID: "usr_alice",
	}
	cases := []struct {
		caller  string
		allowed bool
	}{
		{"usr_alice", true},    // list owner revokes
		{"usr_bob", true},      // subject leaves the list
		{"usr_mallory", false}, // anyone else
	}
	for _, tc := range cases {
		deleteCalls := 0
		fs := &fakeStore{
			getListAccessFn: func(context.Context, string) (store.ListAccess, error) {
				return grant, nil
			},
			deleteListAccessFn: func(context.Context, string, string) error {
				deleteCalls++
				return nil
			},
		}
		svc := newTestService(fs)

		err := svc.DeleteGrant(context.Background(), Session{UserID: tc.caller}, "acc_1")
		if tc.allowed {
			if err != nil {
				t.Fatalf("DeleteGrant(%s) error = %v", tc.caller, err)
			}
			if deleteCalls != 1 {
				t.Fatalf("expected delete call for %s", tc.caller)
			}
		} else {
			domainErr := asDomainError(t, err)
			if domainErr.Code != "FORBIDDEN" {
				t.Fatalf("expected FORBIDDEN for %s, got %s", tc.caller, domainErr.Code)
			}
			if deleteCalls != 0 {
				t.Fatalf("expected no delete call for %s", tc.caller)
			}
		}
	}
}

func TestGrantsForListRequiresAccess(t *testing.T) {
	fs := &fakeStore{
		getListFn: func(_ context.Context, listID string) (store.List, error) {
			return store.List{ID: listID, OwnerID: "usr_alice"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.Grants(context.Background(), Session{UserID: "usr_mallory"}, "lst_1")
	domainErr := asDomainError(t, err)
	if domainErr.Code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN, got %s", domainErr.Code)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	var revokedHash string
	var savedHash string
	fs := &fakeStore{
		lookupRefreshSessionFn: func(_ context.Context, tokenHash string) (string, error) {
			return "usr_alice", nil
		},
		revokeRefreshSessionFn: func(_ context.Context, tokenHash string) error {
			revokedHash = tokenHash
			return nil
		},
		saveRefreshSessionFn: func(_ context.Context, tokenHash, userID string, _ time.Time) error {
			savedHash = tokenHash
			return nil
		},
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, Name: "Alice", Email: "alice@example.com"}, nil
		},
	}
	svc := newTestService(fs)

	session, err := svc.Refresh(context.Background(), "old-refresh-token")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatalf("expected fresh token pair")
	}
	if revokedHash == "" {
		t.Fatalf("expected old refresh token to be revoked")
	}
	if savedHash == "" || savedHash == revokedHash {
		t.Fatalf("expected a new refresh session distinct from the revoked one")
	}
}

func TestRefreshUnknownTokenUnauthorized(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, err := svc.Refresh(context.Background(), "bogus")
	domainErr := asDomainError(t, err)
	if domainErr.Status != 401 {
		t.Fatalf("expected 401, got %d", domainErr.Status)
	}
}
