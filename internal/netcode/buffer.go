package netcode

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// writer fills a fixed-size buffer. Writing past the end sets overflow
// instead of growing, so the caller can report a single error at the end.
type writer struct {
	buf      []byte
	off      int
	overflow bool
}

func newWriter(size int) *writer {
	return &writer{buf: make([]byte, size)}
}

func (w *writer) bytes(b []byte) {
	if w.off+len(b) > len(w.buf) {
		w.overflow = true
		return
	}
	copy(w.buf[w.off:], b)
	w.off += len(b)
}

func (w *writer) u8(v uint8) { w.bytes([]byte{v}) }

func (w *writer) u16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.bytes(b[:])
}

func (w *writer) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.bytes(b[:])
}

func (w *writer) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.bytes(b[:])
}

func (w *writer) addresses(addrs []netip.AddrPort) error {
	if len(addrs) == 0 || len(addrs) > MaxServers {
		return newError(ErrCodeBadAddress, fmt.Sprintf("server address count %d out of range", len(addrs)))
	}
	w.u32(uint32(len(addrs)))
	for _, ap := range addrs {
		addr := ap.Addr().Unmap()
		switch {
		case addr.Is4():
			a := addr.As4()
			w.u8(addressIPv4)
			w.bytes(a[:])
		case addr.Is6():
			a := addr.As16()
			w.u8(addressIPv6)
			w.bytes(a[:])
		default:
			return newError(ErrCodeBadAddress, "invalid server address")
		}
		w.u16(ap.Port())
	}
	return nil
}

// reader consumes a buffer front to back. Reads past the end set short and
// return zero values.
type reader struct {
	buf   []byte
	off   int
	short bool
}

func newReader(b []byte) *reader {
	return &reader{buf: b}
}

func (r *reader) bytes(n int) []byte {
	if r.off+n > len(r.buf) {
		r.short = true
		return make([]byte, n)
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8   { return r.bytes(1)[0] }
func (r *reader) u16() uint16 { return binary.LittleEndian.Uint16(r.bytes(2)) }
func (r *reader) u32() uint32 { return binary.LittleEndian.Uint32(r.bytes(4)) }
func (r *reader) u64() uint64 { return binary.LittleEndian.Uint64(r.bytes(8)) }

func (r *reader) rest() []byte {
	if r.off >= len(r.buf) {
		return nil
	}
	return r.buf[r.off:]
}

func (r *reader) addresses() ([]netip.AddrPort, error) {
	n := r.u32()
	if n == 0 || n > MaxServers {
		return nil, newError(ErrCodeBadAddress, fmt.Sprintf("server address count %d out of range", n))
	}
	addrs := make([]netip.AddrPort, 0, n)
	for i := uint32(0); i < n; i++ {
		var addr netip.Addr
		switch t := r.u8(); t {
		case addressIPv4:
			var a [4]byte
			copy(a[:], r.bytes(4))
			addr = netip.AddrFrom4(a)
		case addressIPv6:
			var a [16]byte
			copy(a[:], r.bytes(16))
			addr = netip.AddrFrom16(a)
		default:
			return nil, newError(ErrCodeBadAddress, fmt.Sprintf("unknown address type %d", t))
		}
		addrs = append(addrs, netip.AddrPortFrom(addr, r.u16()))
	}
	if r.short {
		return nil, newError(ErrCodeBadLength, "truncated server addresses")
	}
	return addrs, nil
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
