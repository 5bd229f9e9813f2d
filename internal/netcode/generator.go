package netcode

import (
	"crypto/rand"
	"fmt"
	"io"
	"net/netip"
	"slices"
	"time"
)

// Generator mints connect tokens for one protocol and one set of session
// servers. It is safe for concurrent use as long as its fields are not
// modified after the first call to Generate.
type Generator struct {
	ProtocolID      uint64
	PrivateKey      [KeyBytes]byte
	ServerAddresses []netip.AddrPort
	TTL             time.Duration
	TimeoutSeconds  int32

	// Rand defaults to crypto/rand.Reader.
	Rand io.Reader
	// Now defaults to time.Now.
	Now func() time.Time
}

// Generate creates a token for clientID. userData is copied into the sealed
// section and may be at most UserDataBytes long.
func (g *Generator) Generate(clientID uint64, userData []byte) (ConnectToken, error) {
	if len(userData) > UserDataBytes {
		return ConnectToken{}, newError(ErrCodeBadUserData, fmt.Sprintf("user data is %d bytes, max %d", len(userData), UserDataBytes))
	}
	if g.TTL < time.Second {
		return ConnectToken{}, fmt.Errorf("token ttl %s is below one second", g.TTL)
	}

	rnd := g.Rand
	if rnd == nil {
		rnd = rand.Reader
	}
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}

	t := ConnectToken{
		ProtocolID:      g.ProtocolID,
		TimeoutSeconds:  g.TimeoutSeconds,
		ServerAddresses: slices.Clone(g.ServerAddresses),
	}
	created := now()
	t.CreateTimestamp = uint64(created.Unix())
	t.ExpireTimestamp = uint64(created.Add(g.TTL).Unix())

	for _, b := range [][]byte{t.Nonce[:], t.ClientToServerKey[:], t.ServerToClientKey[:]} {
		if _, err := io.ReadFull(rnd, b); err != nil {
			return ConnectToken{}, fmt.Errorf("read random: %w", err)
		}
	}

	p := PrivateData{
		ClientID:          clientID,
		TimeoutSeconds:    t.TimeoutSeconds,
		ServerAddresses:   t.ServerAddresses,
		ClientToServerKey: t.ClientToServerKey,
		ServerToClientKey: t.ServerToClientKey,
	}
	copy(p.UserData[:], userData)

	sealed, err := SealPrivateData(p, t.ProtocolID, t.ExpireTimestamp, t.Nonce, g.PrivateKey)
	if err != nil {
		return ConnectToken{}, err
	}
	t.PrivateData = sealed
	return t, nil
}
