// Package pool reduces GC pressure on the hot query path by reusing
// wire.Message structs and read/write byte buffers across requests,
// grounded in the teacher's internal/pool/buffers.go sync.Pool set
// (rewritten against wire.Message instead of miekg/dns.Msg).
package pool

import (
	"sync"

	"github.com/dnsscience/authdnsd/internal/wire"
)

const (
	// SmallBufferSize covers the common case: a UDP query or a response
	// with no EDNS0 extension.
	SmallBufferSize = 512
	// MediumBufferSize covers EDNS0 responses up to the conventional
	// advertised UDP payload size.
	MediumBufferSize = 4096
	// LargeBufferSize covers the maximum DNS message size over TCP.
	LargeBufferSize = 65535
)

var messagePool = sync.Pool{New: func() any { return new(wire.Message) }}

// GetMessage returns a pooled *wire.Message with every field zeroed.
func GetMessage() *wire.Message {
	return messagePool.Get().(*wire.Message)
}

// PutMessage clears msg and returns it to the pool. Clearing every
// field is required, not an optimization: skipping it would leak one
// client's query name and answer records into the next reused message.
func PutMessage(msg *wire.Message) {
	if msg == nil {
		return
	}
	*msg = wire.Message{
		Question:   msg.Question[:0],
		Answer:     msg.Answer[:0],
		Authority:  msg.Authority[:0],
		Additional: msg.Additional[:0],
	}
	messagePool.Put(msg)
}

var (
	smallBufferPool  = sync.Pool{New: func() any { b := make([]byte, SmallBufferSize); return &b }}
	mediumBufferPool = sync.Pool{New: func() any { b := make([]byte, MediumBufferSize); return &b }}
	largeBufferPool  = sync.Pool{New: func() any { b := make([]byte, LargeBufferSize); return &b }}
)

// GetBuffer returns a buffer sized to hold at least size bytes, drawn
// from the pool tier that fits.
func GetBuffer(size int) []byte {
	switch {
	case size <= SmallBufferSize:
		return getFrom(&smallBufferPool, SmallBufferSize)
	case size <= MediumBufferSize:
		return getFrom(&mediumBufferPool, MediumBufferSize)
	default:
		return getFrom(&largeBufferPool, LargeBufferSize)
	}
}

func getFrom(p *sync.Pool, size int) []byte {
	buf := p.Get().(*[]byte)
	return (*buf)[:size]
}

// PutBuffer returns buf to the pool tier matching its capacity. Buffers
// of a capacity not produced by GetBuffer are dropped rather than
// pooled, since mixing sizes into a tier would grow its steady-state
// memory use unboundedly.
func PutBuffer(buf []byte) {
	buf = buf[:cap(buf)]
	switch cap(buf) {
	case SmallBufferSize:
		smallBufferPool.Put(&buf)
	case MediumBufferSize:
		mediumBufferPool.Put(&buf)
	case LargeBufferSize:
		largeBufferPool.Put(&buf)
	}
}
