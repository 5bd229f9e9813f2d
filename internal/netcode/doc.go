// Package netcode implements the connect token format shared by the auth
// service, the client and the session server.
//
// Layout follows netcode 1.02: a fixed 2048 byte little-endian token with a
// public header the client can read and a private section sealed with
// XChaCha20-Poly1305 under a key only the servers hold.
//
// Parsers never return a partially valid value: the input is either the exact
// size and structurally sound, or a *TokenError is returned.
package netcode
