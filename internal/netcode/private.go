package netcode

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/netip"

	"golang.org/x/crypto/chacha20poly1305"
)

// PrivateData is the server-only section of a token.
type PrivateData struct {
	ClientID          uint64
	TimeoutSeconds    int32
	ServerAddresses   []netip.AddrPort
	ClientToServerKey [KeyBytes]byte
	ServerToClientKey [KeyBytes]byte
	UserData          [UserDataBytes]byte
}

const privatePlainBytes = PrivateDataBytes - MACBytes

func (p PrivateData) marshal() ([]byte, error) {
	w := newWriter(privatePlainBytes)
	w.u64(p.ClientID)
	w.u32(uint32(p.TimeoutSeconds))
	if err := w.addresses(p.ServerAddresses); err != nil {
		return nil, err
	}
	w.bytes(p.ClientToServerKey[:])
	w.bytes(p.ServerToClientKey[:])
	w.bytes(p.UserData[:])
	if w.overflow {
		return nil, newError(ErrCodeBadLength, "private data does not fit")
	}
	return w.buf, nil
}

func parsePrivateData(b []byte) (PrivateData, error) {
	r := newReader(b)
	var p PrivateData
	p.ClientID = r.u64()
	p.TimeoutSeconds = int32(r.u32())
	addrs, err := r.addresses()
	if err != nil {
		return PrivateData{}, err
	}
	p.ServerAddresses = addrs
	copy(p.ClientToServerKey[:], r.bytes(KeyBytes))
	copy(p.ServerToClientKey[:], r.bytes(KeyBytes))
	copy(p.UserData[:], r.bytes(UserDataBytes))
	if r.short {
		return PrivateData{}, newError(ErrCodeBadLength, "truncated private data")
	}
	return p, nil
}

// additionalData binds the sealed section to the public header fields.
func additionalData(protocolID, expire uint64) []byte {
	w := newWriter(VersionInfoBytes + 16)
	w.bytes(VersionInfo[:])
	w.u64(protocolID)
	w.u64(expire)
	return w.buf
}

// SealPrivateData encrypts p with XChaCha20-Poly1305 under key.
func SealPrivateData(p PrivateData, protocolID, expire uint64, nonce [NonceBytes]byte, key [KeyBytes]byte) ([PrivateDataBytes]byte, error) {
	var out [PrivateDataBytes]byte
	plain, err := p.marshal()
	if err != nil {
		return out, err
	}
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return out, fmt.Errorf("init aead: %w", err)
	}
	copy(out[:], aead.Seal(nil, nonce[:], plain, additionalData(protocolID, expire)))
	return out, nil
}

// OpenPrivateData decrypts and parses a sealed private section.
func OpenPrivateData(sealed [PrivateDataBytes]byte, protocolID, expire uint64, nonce [NonceBytes]byte, key [KeyBytes]byte) (PrivateData, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return PrivateData{}, fmt.Errorf("init aead: %w", err)
	}
	plain, err := aead.Open(nil, nonce[:], sealed[:], additionalData(protocolID, expire))
	if err != nil {
		return PrivateData{}, newError(ErrCodeDecrypt, "private data authentication failed")
	}
	return parsePrivateData(plain)
}

// GenerateKey returns a random private key.
func GenerateKey() ([KeyBytes]byte, error) {
	var k [KeyBytes]byte
	if _, err := rand.Read(k[:]); err != nil {
		return k, err
	}
	return k, nil
}

// ParseKey decodes a hex encoded private key.
func ParseKey(s string) ([KeyBytes]byte, error) {
	var k [KeyBytes]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("decode key: %w", err)
	}
	if len(b) != KeyBytes {
		return k, fmt.Errorf("key must be %d bytes, got %d", KeyBytes, len(b))
	}
	copy(k[:], b)
	return k, nil
}
