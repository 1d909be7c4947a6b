package core

import (
	"encoding/binary"
	"hash"
	"hash/fnv"
)

type hasher struct {
	h   hash.Hash64
	buf [8]byte
}

func newHasher() *hasher {
	return &hasher{h: fnv.New64a()}
}

func (h *hasher) writeByte(b byte) {
	h.buf[0] = b
	h.h.Write(h.buf[:1])
}

func (h *hasher) writeUint64(u uint64) {
	binary.LittleEndian.PutUint64(h.buf[:], u)
	h.h.Write(h.buf[:])
}

func (h *hasher) writeString(s string) {
	h.h.Write([]byte(s))
}

func (h *hasher) Sum64() uint64 {
	return h.h.Sum64()
}
