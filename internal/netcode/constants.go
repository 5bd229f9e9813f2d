package netcode

const (
	// ConnectTokenBytes is the exact serialized size of a ConnectToken. The auth
	// service writes this many bytes and nothing else.
	ConnectTokenBytes = 2048

	// PrivateDataBytes is the size of the sealed private section, MAC included.
	PrivateDataBytes = 1024

	KeyBytes      = 32
	NonceBytes    = 24
	MACBytes      = 16
	UserDataBytes = 256

	// MaxServers bounds the server address list in both token sections.
	MaxServers = 32

	VersionInfoBytes = 13

	// ConnectionRequestBytes: prefix(1) + version(13) + protocol id(8) +
	// expire timestamp(8) + nonce(24) + private data(1024).
	ConnectionRequestBytes = 1 + VersionInfoBytes + 8 + 8 + NonceBytes + PrivateDataBytes

	// connectionRequestPrefix marks a connection request packet.
	connectionRequestPrefix uint8 = 0

	addressIPv4 uint8 = 1
	addressIPv6 uint8 = 2
)

// VersionInfo is the null-terminated protocol version carried by every token.
var VersionInfo = [VersionInfoBytes]byte{'N', 'E', 'T', 'C', 'O', 'D', 'E', ' ', '1', '.', '0', '2', 0}
