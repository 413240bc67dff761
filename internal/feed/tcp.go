package feed

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/carebell/carebell-go/internal/conf"
)

// maxLineBytes bounds a single feed line. Real driver lines are tiny;
// anything larger is a misbehaving peer.
const maxLineBytes = 1024 * 1024

// TCPSource accepts driver connections and reads newline-delimited
// JSON events from each. When marked authoritative, the presence of at
// least one connection drives the hardware connectivity state.
type TCPSource struct {
	listen        string
	authoritative bool
	in            *ingest

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	stopped  bool

	wg       sync.WaitGroup
	accepted atomic.Uint64
}

// NewTCPSource creates a TCP feed source for the given settings.
func NewTCPSource(settings conf.TCPFeedSettings, bus Publisher) *TCPSource {
	logger := getLoggerSafe("tcp-feed")
	return &TCPSource{
		listen:        settings.Listen,
		authoritative: settings.Authoritative,
		in:            newIngest(bus, "tcp-feed", logger),
		conns:         make(map[net.Conn]struct{}),
	}
}

// Start begins accepting connections. Returns an error if the listen
// address cannot be bound.
func (s *TCPSource) Start() error {
	listener, err := net.Listen("tcp", s.listen)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.in.logger.Info("event feed listening", "addr", listener.Addr().String(), "authoritative", s.authoritative)

	s.wg.Add(1)
	go s.acceptLoop(listener)
	return nil
}

// Addr returns the bound listener address, nil before Start.
func (s *TCPSource) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every open connection, then waits for
// the reader goroutines to finish.
func (s *TCPSource) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	listener := s.listener
	open := make([]net.Conn, 0, len(s.conns))
	for conn := range s.conns {
		open = append(open, conn)
	}
	s.mu.Unlock()

	if listener != nil {
		_ = listener.Close()
	}
	for _, conn := range open {
		_ = conn.Close()
	}
	s.wg.Wait()
}

// Stats returns a snapshot of source activity counters.
func (s *TCPSource) Stats() Stats {
	stats := s.in.stats()
	stats.Connections = s.accepted.Load()

	s.mu.Lock()
	stats.ActiveConns = len(s.conns)
	s.mu.Unlock()
	return stats
}

func (s *TCPSource) acceptLoop(listener net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped || errors.Is(err, net.ErrClosed) {
				return
			}
			s.in.logger.Error("accept failed, feed listener shutting down", "error", err)
			return
		}

		s.accepted.Add(1)
		s.wg.Add(1)
		go s.readConn(conn)
	}
}

// readConn drains one driver connection. The first connection up and
// the last connection down map to hardware connectivity when the
// source is authoritative.
func (s *TCPSource) readConn(conn net.Conn) {
	defer s.wg.Done()

	remote := conn.RemoteAddr().String()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conns[conn] = struct{}{}
	first := len(s.conns) == 1
	s.mu.Unlock()

	s.in.logger.Info("driver connected", "remote", remote)
	if s.authoritative && first {
		s.in.connectivity(true, remote)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		s.in.line(scanner.Bytes())
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.in.logger.Debug("driver connection read error", "remote", remote, "error", err)
	}
	_ = conn.Close()

	s.mu.Lock()
	delete(s.conns, conn)
	last := len(s.conns) == 0 && !s.stopped
	s.mu.Unlock()

	s.in.logger.Info("driver disconnected", "remote", remote)
	if s.authoritative && last {
		s.in.connectivity(false, "")
	}
}
