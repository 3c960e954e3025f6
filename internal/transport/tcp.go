package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/dnsscience/authdnsd/internal/resolver"
	"github.com/dnsscience/authdnsd/internal/wire"
	"github.com/dnsscience/authdnsd/internal/worker"
)

// maxTCPMessage is the largest DNS message the length-prefix framing can
// carry (the two-octet length field's range).
const maxTCPMessage = 65535

// TCPServer serves DNS queries over length-prefixed TCP connections, one
// query resolved at a time per connection, per RFC 1035 strict
// request-response ordering.
type TCPServer struct {
	addr        string
	resolver    *resolver.Resolver
	pool        *worker.Pool
	idleTimeout time.Duration
	logger      *slog.Logger

	listener net.Listener
	done     chan struct{}
}

// NewTCPServer builds a TCPServer. It does not bind a listener until Start.
func NewTCPServer(addr string, res *resolver.Resolver, workerPool *worker.Pool, idleTimeout time.Duration, logger *slog.Logger) *TCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Second
	}
	return &TCPServer{addr: addr, resolver: res, pool: workerPool, idleTimeout: idleTimeout, logger: logger, done: make(chan struct{})}
}

// Start binds the TCP listener and begins the accept loop.
func (s *TCPServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln

	go s.acceptLoop()
	return nil
}

// Stop closes the listener, ending the accept loop. In-flight
// connections are not forcibly closed; they drain on their own idle
// timeout or next EOF.
func (s *TCPServer) Stop() error {
	close(s.done)
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *TCPServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}

		job := worker.JobFunc(func(ctx context.Context) error {
			s.serveConn(ctx, conn)
			return nil
		})
		if err := s.pool.TrySubmit(context.Background(), job); err != nil {
			s.logger.Warn("tcp connection refused under backpressure", "error", err, "remote", conn.RemoteAddr().String())
			conn.Close()
		}
	}
}

func (s *TCPServer) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(s.idleTimeout))

		var lenBuf [2]byte
		if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
			return
		}
		msgLen := binary.BigEndian.Uint16(lenBuf[:])
		if msgLen == 0 {
			return
		}

		payload := make([]byte, msgLen)
		if _, err := io.ReadFull(conn, payload); err != nil {
			return
		}

		query, err := wire.Parse(payload)
		if err != nil {
			s.logger.Debug("malformed tcp query, closing connection", "error", err, "remote", conn.RemoteAddr().String())
			return
		}

		resp := s.resolver.Resolve(ctx, query, conn.RemoteAddr().String())

		encoded, err := wire.Encode(resp)
		if err != nil {
			s.logger.Error("failed to encode tcp response", "error", err)
			return
		}
		if len(encoded) > maxTCPMessage {
			s.logger.Error("encoded response exceeds tcp message limit", "len", len(encoded))
			return
		}

		conn.SetWriteDeadline(time.Now().Add(s.idleTimeout))
		if err := writeFramed(conn, encoded); err != nil {
			return
		}
	}
}

func writeFramed(w io.Writer, payload []byte) error {
	if len(payload) > maxTCPMessage {
		return errors.New("transport: response too large for tcp framing")
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
