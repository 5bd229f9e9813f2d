package netcode

import (
	"bytes"
	"time"
)

// ConnectionRequest is the first packet a client sends to a session server.
// It carries the sealed private section of its token plus the public fields
// needed to open it.
type ConnectionRequest struct {
	ProtocolID      uint64
	ExpireTimestamp uint64
	Nonce           [NonceBytes]byte
	PrivateData     [PrivateDataBytes]byte
}

// MarshalBinary encodes r into exactly ConnectionRequestBytes bytes.
func (r ConnectionRequest) MarshalBinary() ([]byte, error) {
	w := newWriter(ConnectionRequestBytes)
	w.u8(connectionRequestPrefix)
	w.bytes(VersionInfo[:])
	w.u64(r.ProtocolID)
	w.u64(r.ExpireTimestamp)
	w.bytes(r.Nonce[:])
	w.bytes(r.PrivateData[:])
	if w.overflow {
		return nil, newError(ErrCodeBadLength, "request does not fit")
	}
	return w.buf, nil
}

// ParseConnectionRequest decodes a request packet without opening it.
func ParseConnectionRequest(b []byte) (ConnectionRequest, error) {
	if len(b) != ConnectionRequestBytes {
		return ConnectionRequest{}, newError(ErrCodeBadLength, "wrong request size")
	}
	rd := newReader(b)
	if rd.u8() != connectionRequestPrefix {
		return ConnectionRequest{}, newError(ErrCodeBadPrefix, "not a connection request")
	}
	if !bytes.Equal(rd.bytes(VersionInfoBytes), VersionInfo[:]) {
		return ConnectionRequest{}, newError(ErrCodeBadVersion, "unsupported version info")
	}
	var r ConnectionRequest
	r.ProtocolID = rd.u64()
	r.ExpireTimestamp = rd.u64()
	copy(r.Nonce[:], rd.bytes(NonceBytes))
	copy(r.PrivateData[:], rd.bytes(PrivateDataBytes))
	return r, nil
}

// Open verifies the request against the server's protocol id and clock and
// decrypts its private section.
func (r ConnectionRequest) Open(key [KeyBytes]byte, protocolID uint64, now time.Time) (PrivateData, error) {
	if r.ProtocolID != protocolID {
		return PrivateData{}, newError(ErrCodeProtocolMismatch, "protocol id mismatch")
	}
	if r.ExpireTimestamp <= uint64(now.Unix()) {
		return PrivateData{}, newError(ErrCodeExpired, "connect token expired")
	}
	return OpenPrivateData(r.PrivateData, r.ProtocolID, r.ExpireTimestamp, r.Nonce, key)
}
