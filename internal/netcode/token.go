package netcode

import (
	"bytes"
	"net/netip"
	"slices"
	"time"
)

// ConnectToken is the single-use credential handed out by the auth service.
// The client reads the public fields to find a session server; PrivateData is
// sealed with the server key and only forwarded.
//
// A ConnectToken is a value: copy it, do not mutate it after parsing.
type ConnectToken struct {
	ProtocolID      uint64
	CreateTimestamp uint64
	ExpireTimestamp uint64
	Nonce           [NonceBytes]byte
	PrivateData     [PrivateDataBytes]byte
	TimeoutSeconds  int32

	ServerAddresses   []netip.AddrPort
	ClientToServerKey [KeyBytes]byte
	ServerToClientKey [KeyBytes]byte
}

// MarshalBinary encodes t into exactly ConnectTokenBytes bytes.
func (t ConnectToken) MarshalBinary() ([]byte, error) {
	if t.ExpireTimestamp < t.CreateTimestamp {
		return nil, newError(ErrCodeBadTimestamps, "expire timestamp before create timestamp")
	}
	w := newWriter(ConnectTokenBytes)
	w.bytes(VersionInfo[:])
	w.u64(t.ProtocolID)
	w.u64(t.CreateTimestamp)
	w.u64(t.ExpireTimestamp)
	w.bytes(t.Nonce[:])
	w.bytes(t.PrivateData[:])
	w.u32(uint32(t.TimeoutSeconds))
	if err := w.addresses(t.ServerAddresses); err != nil {
		return nil, err
	}
	w.bytes(t.ClientToServerKey[:])
	w.bytes(t.ServerToClientKey[:])
	if w.overflow {
		return nil, newError(ErrCodeBadLength, "token does not fit")
	}
	return w.buf, nil
}

// ParseConnectToken decodes and structurally validates a serialized token. The
// input must be exactly ConnectTokenBytes long; a token is never partially valid.
func ParseConnectToken(b []byte) (ConnectToken, error) {
	if len(b) != ConnectTokenBytes {
		return ConnectToken{}, newError(ErrCodeBadLength, "wrong token size")
	}
	r := newReader(b)
	if !bytes.Equal(r.bytes(VersionInfoBytes), VersionInfo[:]) {
		return ConnectToken{}, newError(ErrCodeBadVersion, "unsupported version info")
	}

	var t ConnectToken
	t.ProtocolID = r.u64()
	t.CreateTimestamp = r.u64()
	t.ExpireTimestamp = r.u64()
	if t.ExpireTimestamp < t.CreateTimestamp {
		return ConnectToken{}, newError(ErrCodeBadTimestamps, "expire timestamp before create timestamp")
	}
	copy(t.Nonce[:], r.bytes(NonceBytes))
	copy(t.PrivateData[:], r.bytes(PrivateDataBytes))
	t.TimeoutSeconds = int32(r.u32())

	addrs, err := r.addresses()
	if err != nil {
		return ConnectToken{}, err
	}
	t.ServerAddresses = addrs
	copy(t.ClientToServerKey[:], r.bytes(KeyBytes))
	copy(t.ServerToClientKey[:], r.bytes(KeyBytes))
	if r.short {
		return ConnectToken{}, newError(ErrCodeBadLength, "truncated token")
	}
	if !allZero(r.rest()) {
		return ConnectToken{}, newError(ErrCodeBadPadding, "non-zero padding")
	}
	return t, nil
}

// Expired reports whether the token can no longer be redeemed at now.
func (t ConnectToken) Expired(now time.Time) bool {
	return t.ExpireTimestamp <= uint64(now.Unix())
}

// Addresses returns a copy of the server address list.
func (t ConnectToken) Addresses() []netip.AddrPort {
	return slices.Clone(t.ServerAddresses)
}

// Request builds the packet the client presents to a session server.
func (t ConnectToken) Request() ConnectionRequest {
	return ConnectionRequest{
		ProtocolID:      t.ProtocolID,
		ExpireTimestamp: t.ExpireTimestamp,
		Nonce:           t.Nonce,
		PrivateData:     t.PrivateData,
	}
}
