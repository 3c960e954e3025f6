// Package transport implements authdnsd's UDP and TCP listeners: the
// outermost layer that turns bytes on a socket into a resolver.Resolve
// call and back, grounded in the teacher's internal/transport package
// (its raw-socket accept-loop-plus-worker-pool shape, generalized from
// the teacher's dnsasm fast path and miekg/dns transport to authdnsd's
// own wire codec and worker pool).
package transport

import (
	"context"
	"log/slog"
	"net"

	"github.com/dnsscience/authdnsd/internal/pool"
	"github.com/dnsscience/authdnsd/internal/resolver"
	"github.com/dnsscience/authdnsd/internal/wire"
	"github.com/dnsscience/authdnsd/internal/worker"
)

// maxUDPDatagram is the default largest inbound datagram the listener
// will attempt to parse when the caller does not override it via
// NewUDPServer's maxDatagram argument; larger reads are dropped outright
// per the spec.
const maxUDPDatagram = 4096

// UDPServer serves DNS queries over a single shared UDP socket, handing
// each datagram to the worker pool so the read loop never blocks on
// resolution.
type UDPServer struct {
	addr        string
	resolver    *resolver.Resolver
	pool        *worker.Pool
	logger      *slog.Logger
	maxDatagram int

	conn *net.UDPConn
	done chan struct{}
}

// NewUDPServer builds a UDPServer. It does not bind a socket until Start.
// maxDatagram bounds the largest datagram accepted off the wire and caps
// the response size limit, which is otherwise the client's advertised
// EDNS0 UDP size (512 without an OPT record); a value <= 0 falls
// back to maxUDPDatagram (config.Config.MaxPacketSize feeds this in
// production).
func NewUDPServer(addr string, res *resolver.Resolver, workerPool *worker.Pool, maxDatagram int, logger *slog.Logger) *UDPServer {
	if logger == nil {
		logger = slog.Default()
	}
	if maxDatagram <= 0 {
		maxDatagram = maxUDPDatagram
	}
	return &UDPServer{addr: addr, resolver: res, pool: workerPool, maxDatagram: maxDatagram, logger: logger, done: make(chan struct{})}
}

// Start binds the UDP socket and begins the receive loop. It returns
// once the socket is bound; the receive loop runs in its own goroutine.
func (s *UDPServer) Start() error {
	udpAddr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	s.conn = conn

	go s.readLoop()
	return nil
}

// Stop closes the socket, ending the receive loop. It does not wait for
// in-flight jobs already submitted to the worker pool; callers that
// need a drained shutdown should close the worker pool afterward.
func (s *UDPServer) Stop() error {
	close(s.done)
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *UDPServer) readLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		buf := pool.GetBuffer(s.maxDatagram + 1)
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			pool.PutBuffer(buf)
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}
		if n > s.maxDatagram {
			pool.PutBuffer(buf)
			continue
		}

		datagram := append([]byte(nil), buf[:n]...)
		pool.PutBuffer(buf)

		job := worker.JobFunc(func(ctx context.Context) error {
			return s.handle(ctx, datagram, addr)
		})
		if err := s.pool.TrySubmit(context.Background(), job); err != nil {
			s.logger.Warn("udp query dropped under backpressure", "error", err, "client", addr.String())
		}
	}
}

func (s *UDPServer) handle(ctx context.Context, datagram []byte, addr *net.UDPAddr) error {
	query, err := wire.Parse(datagram)
	if err != nil {
		s.logger.Debug("malformed udp query dropped", "error", err, "client", addr.String())
		return nil
	}

	resp := s.resolver.Resolve(ctx, query, addr.String())

	encoded, err := wire.Encode(resp)
	if err != nil {
		s.logger.Error("failed to encode response", "error", err)
		return err
	}
	limit := wire.DefaultUDPSize
	if opt, _ := wire.FindOPT(query); opt != nil {
		if size, _, _, _ := wire.DecodeOPTMeta(*opt); int(size) > limit {
			limit = int(size)
		}
	}
	if limit > s.maxDatagram {
		limit = s.maxDatagram
	}
	if len(encoded) > limit {
		encoded = truncate(resp)
	}

	_, err = s.conn.WriteToUDP(encoded, addr)
	return err
}

// truncate builds the minimal header+question truncated response (tc=1,
// no answer) for a response that would otherwise exceed the UDP size
// limit.
func truncate(resp *wire.Message) []byte {
	tc := &wire.Message{Header: resp.Header, Question: resp.Question}
	tc.Header.TC = true
	tc.Header.AA = false
	encoded, err := wire.Encode(tc)
	if err != nil {
		return nil
	}
	return encoded
}
