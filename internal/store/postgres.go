package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// touchList bumps the list's freshness marker inside the caller's
// transaction. Every committed change to a list or anything it owns goes
// through this; the list row itself is the only entity that is not
// re-propagated.
func touchList(ctx context.Context, tx *sql.Tx, listID string) error {
	if _, err := tx.ExecContext(ctx, `UPDATE lists SET updated_at=NOW() WHERE id=$1`, listID); err != nil {
		return fmt.Errorf("touch list: %w", err)
	}
	return nil
}

// Users

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.Name, user.Email, user.PasswordHash)
	if isUniqueViolation(err) {
		return fmt.Errorf("create user: %w", ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, created_at FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, created_at FROM users WHERE email=$1
	`, email).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UserExists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id=$1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user exists: %w", err)
	}
	return exists, nil
}

// DeleteUser removes the user and everything rooted at them. Owned lists
// cascade at the schema level; grant and invite rows where the user is a
// non-owning participant are restricted, so they are removed explicitly
// first and the lists they referenced are touched.
func (s *PostgresStore) DeleteUser(ctx context.Context, userID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT DISTINCT la.list_id FROM list_access la
			JOIN lists l ON l.id = la.list_id
			WHERE la.user_id=$1 AND l.owner_id <> $1
			UNION
			SELECT DISTINCT i.list_id FROM invites i
			JOIN lists l ON l.id = i.list_id
			WHERE (i.sender_id=$1 OR i.receiver_id=$1) AND l.owner_id <> $1
		`, userID)
		if err != nil {
			return fmt.Errorf("collect participant lists: %w", err)
		}
		var listIDs []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan participant list: %w", err)
			}
			listIDs = append(listIDs, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate participant lists: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM list_access WHERE user_id=$1`, userID); err != nil {
			return fmt.Errorf("delete user grants: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM invites WHERE sender_id=$1 OR receiver_id=$1`, userID); err != nil {
			return fmt.Errorf("delete user invites: %w", err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id=$1`, userID)
		if err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		if affected, err := result.RowsAffected(); err == nil && affected == 0 {
			return sql.ErrNoRows
		}

		for _, listID := range listIDs {
			if err := touchList(ctx, tx, listID); err != nil {
				return err
			}
		}
		return nil
	})
}

// Lists

func (s *PostgresStore) CreateList(ctx context.Context, list List) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lists (id, owner_id, name)
		VALUES ($1, $2, $3)
	`, list.ID, list.OwnerID, list.Name)
	if err != nil {
		return fmt.Errorf("create list: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetList(ctx context.Context, listID string) (List, error) {
	var list List
	err := s.db.QueryRowContext(ctx, `
		SELECT l.id, l.owner_id, l.name, l.created_at, l.updated_at, u.name
		FROM lists l
		JOIN users u ON u.id = l.owner_id
		WHERE l.id=$1
	`, listID).Scan(&list.ID, &list.OwnerID, &list.Name, &list.CreatedAt, &list.UpdatedAt, &list.OwnerName)
	if err != nil {
		return List{}, err
	}
	return list, nil
}

func (s *PostgresStore) GetListUpdatedAt(ctx context.Context, listID string) (time.Time, error) {
	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx, `SELECT updated_at FROM lists WHERE id=$1`, listID).Scan(&updatedAt)
	if err != nil {
		return time.Time{}, err
	}
	return updatedAt, nil
}

// ListListsForUser returns the union of lists the user owns and lists they
// hold a grant on.
func (s *PostgresStore) ListListsForUser(ctx context.Context, userID string) ([]List, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.owner_id, l.name, l.created_at, l.updated_at, u.name
		FROM lists l
		JOIN users u ON u.id = l.owner_id
		WHERE l.owner_id=$1
		   OR EXISTS (SELECT 1 FROM list_access la WHERE la.list_id = l.id AND la.user_id=$1)
		ORDER BY l.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list lists: %w", err)
	}
	defer rows.Close()

	lists := make([]List, 0)
	for rows.Next() {
		var list List
		if err := rows.Scan(&list.ID, &list.OwnerID, &list.Name, &list.CreatedAt, &list.UpdatedAt, &list.OwnerName); err != nil {
			return nil, fmt.Errorf("scan list: %w", err)
		}
		lists = append(lists, list)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lists: %w", err)
	}
	return lists, nil
}

func (s *PostgresStore) UpdateListName(ctx context.Context, listID, name string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE lists SET name=$2, updated_at=NOW() WHERE id=$1
	`, listID, name)
	if err != nil {
		return fmt.Errorf("update list: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteList removes the list; items, grants and invites cascade with it.
func (s *PostgresStore) DeleteList(ctx context.Context, listID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM lists WHERE id=$1`, listID)
	if err != nil {
		return fmt.Errorf("delete list: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// HasListAccess reports whether the user owns the list or holds a grant on
// it. It is read-only and safe to call for lists that do not exist.
func (s *PostgresStore) HasListAccess(ctx context.Context, userID, listID string) (bool, error) {
	var allowed bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM lists WHERE id=$2 AND owner_id=$1)
		    OR EXISTS(SELECT 1 FROM list_access WHERE list_id=$2 AND user_id=$1)
	`, userID, listID).Scan(&allowed)
	if err != nil {
		return false, fmt.Errorf("check list access: %w", err)
	}
	return allowed, nil
}

// Items

func (s *PostgresStore) CreateItem(ctx context.Context, item Item) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO items (id, list_id, text)
			VALUES ($1, $2, $3)
		`, item.ID, item.ListID, item.Text); err != nil {
			return fmt.Errorf("create item: %w", err)
		}
		return touchList(ctx, tx, item.ListID)
	})
}

func (s *PostgresStore) GetItem(ctx context.Context, itemID string) (Item, error) {
	var item Item
	err := s.db.QueryRowContext(ctx, `
		SELECT id, list_id, text, is_completed, completion_count, created_at
		FROM items WHERE id=$1
	`, itemID).Scan(&item.ID, &item.ListID, &item.Text, &item.IsCompleted, &item.CompletionCount, &item.CreatedAt)
	if err != nil {
		return Item{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListItemsByList(ctx context.Context, listID string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, list_id, text, is_completed, completion_count, created_at
		FROM items WHERE list_id=$1
		ORDER BY created_at ASC
	`, listID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.ListID, &item.Text, &item.IsCompleted, &item.CompletionCount, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateItemText(ctx context.Context, itemID, listID, text string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE items SET text=$2 WHERE id=$1`, itemID, text); err != nil {
			return fmt.Errorf("update item: %w", err)
		}
		return touchList(ctx, tx, listID)
	})
}

// MarkItemComplete flips the item to completed and increments the
// completion counter. The illegal-transition check belongs to the service;
// the WHERE clause is a second line of protection under concurrent writers.
func (s *PostgresStore) MarkItemComplete(ctx context.Context, itemID, listID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE items
			SET is_completed=TRUE, completion_count=completion_count+1
			WHERE id=$1 AND is_completed=FALSE
		`, itemID)
		if err != nil {
			return fmt.Errorf("mark item complete: %w", err)
		}
		if affected, err := result.RowsAffected(); err == nil && affected == 0 {
			return fmt.Errorf("mark item complete: %w", ErrConflict)
		}
		return touchList(ctx, tx, listID)
	})
}

func (s *PostgresStore) MarkItemIncomplete(ctx context.Context, itemID, listID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE items SET is_completed=FALSE WHERE id=$1 AND is_completed=TRUE
		`, itemID)
		if err != nil {
			return fmt.Errorf("mark item incomplete: %w", err)
		}
		if affected, err := result.RowsAffected(); err == nil && affected == 0 {
			return fmt.Errorf("mark item incomplete: %w", ErrConflict)
		}
		return touchList(ctx, tx, listID)
	})
}

func (s *PostgresStore) DeleteItem(ctx context.Context, itemID, listID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id=$1`, itemID); err != nil {
			return fmt.Errorf("delete item: %w", err)
		}
		return touchList(ctx, tx, listID)
	})
}

// Grants. Grant rows are only ever created by AcceptInvite; there is no
// direct insert path.

const listAccessSelect = `
	SELECT la.id, la.user_id, la.list_id, la.created_at, u.name, l.name, l.owner_id
	FROM list_access la
	JOIN users u ON u.id = la.user_id
	JOIN lists l ON l.id = la.list_id
`

func scanListAccess(row interface{ Scan(...any) error }) (ListAccess, error) {
	var grant ListAccess
	err := row.Scan(&grant.ID, &grant.UserID, &grant.ListID, &grant.CreatedAt, &grant.UserName, &grant.ListName, &grant.ListOwnerID)
	return grant, err
}

func (s *PostgresStore) GetListAccess(ctx context.Context, grantID string) (ListAccess, error) {
	grant, err := scanListAccess(s.db.QueryRowContext(ctx, listAccessSelect+`WHERE la.id=$1`, grantID))
	if err != nil {
		return ListAccess{}, err
	}
	return grant, nil
}

func (s *PostgresStore) ListAccessByUser(ctx context.Context, userID string) ([]ListAccess, error) {
	return s.queryListAccess(ctx, listAccessSelect+`WHERE la.user_id=$1 ORDER BY la.created_at ASC`, userID)
}

func (s *PostgresStore) ListAccessByList(ctx context.Context, listID string) ([]ListAccess, error) {
	return s.queryListAccess(ctx, listAccessSelect+`WHERE la.list_id=$1 ORDER BY la.created_at ASC`, listID)
}

func (s *PostgresStore) queryListAccess(ctx context.Context, query string, arg any) ([]ListAccess, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()

	grants := make([]ListAccess, 0)
	for rows.Next() {
		grant, err := scanListAccess(rows)
		if err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		grants = append(grants, grant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grants: %w", err)
	}
	return grants, nil
}

func (s *PostgresStore) DeleteListAccess(ctx context.Context, grantID, listID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM list_access WHERE id=$1`, grantID); err != nil {
			return fmt.Errorf("delete list access: %w", err)
		}
		return touchList(ctx, tx, listID)
	})
}

// Invites

func (s *PostgresStore) CreateInvite(ctx context.Context, invite Invite) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO invites (id, sender_id, receiver_id, list_id)
			VALUES ($1, $2, $3, $4)
		`, invite.ID, invite.SenderID, invite.ReceiverID, invite.ListID)
		if isUniqueViolation(err) {
			return fmt.Errorf("create invite: %w", ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("create invite: %w", err)
		}
		return touchList(ctx, tx, invite.ListID)
	})
}

const inviteSelect = `
	SELECT i.id, i.sender_id, i.receiver_id, i.list_id, i.created_at,
	       s.name, r.name, r.email, l.name, l.owner_id
	FROM invites i
	JOIN users s ON s.id = i.sender_id
	JOIN users r ON r.id = i.receiver_id
	JOIN lists l ON l.id = i.list_id
`

func scanInvite(row interface{ Scan(...any) error }) (Invite, error) {
	var invite Invite
	err := row.Scan(&invite.ID, &invite.SenderID, &invite.ReceiverID, &invite.ListID, &invite.CreatedAt,
		&invite.SenderName, &invite.ReceiverName, &invite.ReceiverEmail, &invite.ListName, &invite.ListOwnerID)
	return invite, err
}

func (s *PostgresStore) GetInvite(ctx context.Context, inviteID string) (Invite, error) {
	invite, err := scanInvite(s.db.QueryRowContext(ctx, inviteSelect+`WHERE i.id=$1`, inviteID))
	if err != nil {
		return Invite{}, err
	}
	return invite, nil
}

func (s *PostgresStore) SentInvitesByUser(ctx context.Context, userID string) ([]Invite, error) {
	return s.queryInvites(ctx, inviteSelect+`WHERE i.sender_id=$1 ORDER BY i.created_at ASC`, userID)
}

func (s *PostgresStore) ReceivedInvitesByUser(ctx context.Context, userID string) ([]Invite, error) {
	return s.queryInvites(ctx, inviteSelect+`WHERE i.receiver_id=$1 ORDER BY i.created_at ASC`, userID)
}

func (s *PostgresStore) queryInvites(ctx context.Context, query string, arg any) ([]Invite, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list invites: %w", err)
	}
	defer rows.Close()

	invites := make([]Invite, 0)
	for rows.Next() {
		invite, err := scanInvite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invite: %w", err)
		}
		invites = append(invites, invite)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invites: %w", err)
	}
	return invites, nil
}

func (s *PostgresStore) DeleteInvite(ctx context.Context, inviteID, listID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM invites WHERE id=$1`, inviteID); err != nil {
			return fmt.Errorf("delete invite: %w", err)
		}
		return touchList(ctx, tx, listID)
	})
}

// AcceptInvite converts the invite into a grant. The insert, the delete and
// the freshness touch commit atomically; a duplicate grant surfaces as
// ErrConflict and rolls everything back.
func (s *PostgresStore) AcceptInvite(ctx context.Context, invite Invite, grantID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO list_access (id, user_id, list_id)
			VALUES ($1, $2, $3)
		`, grantID, invite.ReceiverID, invite.ListID)
		if isUniqueViolation(err) {
			return fmt.Errorf("accept invite: %w", ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("accept invite: %w", err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM invites WHERE id=$1`, invite.ID)
		if err != nil {
			return fmt.Errorf("accept invite: %w", err)
		}
		if affected, err := result.RowsAffected(); err == nil && affected == 0 {
			return sql.ErrNoRows
		}
		return touchList(ctx, tx, invite.ListID)
	})
}

// Refresh sessions (Postgres fallback when Redis is not configured)

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM refresh_sessions
		WHERE token_hash = $1
			AND revoked_at IS NULL
			AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}
