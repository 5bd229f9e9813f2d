package auth

import (
	"errors"

	"github.com/google/uuid"
	"github.com/xthreen/lightyear/internal/netcode"
)

var errNoGrant = errors.New("token user data carries no grant id")

// GrantUserData encodes a grant id into token user data.
func GrantUserData(id uuid.UUID) []byte {
	b := make([]byte, len(id))
	copy(b, id[:])
	return b
}

// GrantFromUserData recovers the grant id written by GrantUserData.
func GrantFromUserData(ud [netcode.UserDataBytes]byte) (uuid.UUID, error) {
	id, err := uuid.FromBytes(ud[:16])
	if err != nil {
		return uuid.Nil, err
	}
	if id == uuid.Nil {
		return uuid.Nil, errNoGrant
	}
	return id, nil
}
