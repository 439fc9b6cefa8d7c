package pool

import "sync"

// DatagramBufferSize is the capacity of pooled datagram buffers. It is larger than any
// valid datagram so that oversized datagrams are detected instead of silently truncated.
const DatagramBufferSize = 2048

var bufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, DatagramBufferSize)
		return &b
	},
}

// GetBuffer returns a datagram buffer of DatagramBufferSize bytes.
func GetBuffer() *[]byte {
	b, _ := bufferPool.Get().(*[]byte)
	*b = (*b)[:DatagramBufferSize]

	return b
}

// PutBuffer returns b to the pool.
func PutBuffer(b *[]byte) {
	if b == nil || cap(*b) < DatagramBufferSize {
		return
	}
	bufferPool.Put(b)
}
