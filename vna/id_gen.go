package vna

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"sync"
	"sync/atomic"
)

// seqGenerator generates request sequence numbers.
//
// The starting value is random so that responses to requests of a previous process
// are not mistaken for replies to the current one.
type seqGenerator struct {
	seq atomic.Uint32
}

func newSeqGenerator() *seqGenerator {
	inst := &seqGenerator{}
	var buf [4]byte
	if _, err := io.ReadFull(rand.Reader, buf[:]); err != nil {
		return inst
	}
	inst.seq.Store(binary.LittleEndian.Uint32(buf[:]))

	return inst
}

var (
	genInst *seqGenerator
	genOnce sync.Once
)

// NextSequence returns a new request sequence number.
func NextSequence() uint32 {
	genOnce.Do(func() {
		genInst = newSeqGenerator()
	})

	return genInst.seq.Add(1)
}
