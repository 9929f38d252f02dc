// Package access holds the authorization rules for shared lists as pure
// functions over entity snapshots, so they can be tested without a store.
package access

import "rememberall/api/internal/store"

// CanUse is the general gate for viewing and mutating a list: the owner
// always may; anyone else needs a grant. hasGrant is the result of a
// grant lookup supplied by the caller.
func CanUse(userID string, list store.List, hasGrant bool) bool {
	return list.OwnerID == userID || hasGrant
}

// IsOwner gates owner-only operations, list deletion above all. A grant
// holder never passes this check.
func IsOwner(userID string, list store.List) bool {
	return list.OwnerID == userID
}

// CanRevokeGrant allows the list's owner to remove a collaborator and the
// grant's own subject to leave the list. Nobody else.
func CanRevokeGrant(userID string, grant store.ListAccess) bool {
	return grant.ListOwnerID == userID || grant.UserID == userID
}

// CanAcceptInvite: acceptance is identity-checked, never assumed.
func CanAcceptInvite(userID string, invite store.Invite) bool {
	return invite.ReceiverID == userID
}

// CanDeleteInvite allows either end of a pending invite to withdraw or
// decline it.
func CanDeleteInvite(userID string, invite store.Invite) bool {
	return invite.SenderID == userID || invite.ReceiverID == userID
}

// SenderStillOwns guards acceptance against stale authority: if the list
// changed hands after the invite was issued, the invite must not convert
// into a grant.
func SenderStillOwns(invite store.Invite) bool {
	return invite.ListOwnerID == invite.SenderID
}
