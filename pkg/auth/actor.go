package auth

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/shopcore/pkg/enums"
)

// Actor is the authenticated principal a service call runs on behalf of.
type Actor struct {
	UserID uuid.UUID
	Role   enums.ActorRole
}

// SystemActor is used by workers and sweeps.
func SystemActor() Actor {
	return Actor{Role: enums.ActorRoleSystem}
}

// ActorFromClaims converts verified token claims.
func ActorFromClaims(claims *AccessTokenClaims) Actor {
	if claims == nil {
		return Actor{}
	}
	return Actor{UserID: claims.UserID, Role: claims.Role}
}

// CanAccess reports whether the actor may act on a resource owned by ownerID.
// Admins and the system bypass ownership.
func (a Actor) CanAccess(ownerID uuid.UUID) bool {
	if a.Role.IsPrivileged() {
		return true
	}
	return a.UserID != uuid.Nil && a.UserID == ownerID
}

// UserIDPtr returns nil for the system actor.
func (a Actor) UserIDPtr() *uuid.UUID {
	if a.UserID == uuid.Nil {
		return nil
	}
	id := a.UserID
	return &id
}
