package server

import (
	"crypto/tls"
	"errors"
	"log"
	"net"
	"path/filepath"
	"sync"

	"github.com/ManouchehrRasoulli/fsevents/pkg/journal"
	"github.com/ManouchehrRasoulli/fsevents/pkg/user"
)

// DefaultQueueSize is the number of batches buffered per subscriber before
// the subscriber is considered too slow and disconnected.
const DefaultQueueSize = 64

type ServerTLS struct {
	Key  string
	Cert string
}

type Server struct {
	address   string
	roots     []string
	tls       *ServerTLS
	um        *user.UserManager
	j         *journal.Journal
	logger    *log.Logger
	queueSize int

	l        net.Listener
	exit     chan struct{}
	exitOnce sync.Once
	wg       sync.WaitGroup

	mu       sync.Mutex
	sessions map[*session]struct{}
}

// NewServer
// roots are the watched roots the server publishes, um and j are optional.
// Without a user manager every join is accepted and without a journal
// replay requests are answered with an empty response.
func NewServer(address string, roots []string, tls *ServerTLS, um *user.UserManager, j *journal.Journal, logger *log.Logger) *Server {
	clean := make([]string, 0, len(roots))
	for _, r := range roots {
		clean = append(clean, filepath.Clean(r))
	}

	return &Server{
		address:   address,
		roots:     clean,
		tls:       tls,
		um:        um,
		j:         j,
		logger:    logger,
		queueSize: DefaultQueueSize,
		exit:      make(chan struct{}),
		sessions:  make(map[*session]struct{}),
	}
}

func (s *Server) Listen() error {
	if s.l != nil {
		return nil
	}

	if s.tls != nil {
		cert, err := tls.LoadX509KeyPair(s.tls.Cert, s.tls.Key)
		if err != nil {
			return err
		}
		l, err := tls.Listen("tcp", s.address, &tls.Config{Certificates: []tls.Certificate{cert}})
		if err != nil {
			return err
		}
		s.l = l
		return nil
	}

	l, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	s.l = l
	return nil
}

// Addr returns the listening address, nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.l == nil {
		return nil
	}
	return s.l.Addr()
}

// Run accepts connections until Exit is called. It listens first when
// Listen was not called before.
func (s *Server) Run() error {
	if err := s.Listen(); err != nil {
		return err
	}

	host, port, err := net.SplitHostPort(s.l.Addr().String())
	if err != nil {
		return err
	}
	s.logger.Printf("server :: running on host %s, port %s, tls %t ...\n", host, port, s.tls != nil)

	for {
		conn, err := s.l.Accept()
		if err != nil {
			select {
			case <-s.exit:
				return nil
			default:
			}
			return err
		}

		s.logger.Printf("server :: accept connection --> {remote-address: %s, network: %s}\n",
			conn.RemoteAddr().String(), conn.RemoteAddr().Network())

		if !s.track() {
			_ = conn.Close()
			return nil
		}
		go s.serve(conn)
	}
}

// Exit closes the listener and every open connection, then waits for the
// connection handlers to return. It is safe to call more than once.
func (s *Server) Exit() error {
	var err error
	s.exitOnce.Do(func() {
		close(s.exit)
		if s.l != nil {
			err = s.l.Close()
		}

		s.mu.Lock()
		for ss := range s.sessions {
			ss.close()
		}
		s.mu.Unlock()

		s.wg.Wait()
	})
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// Publish hands a journaled batch to every subscriber of its root. It never
// blocks: a subscriber whose queue is full is disconnected.
func (s *Server) Publish(r journal.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ss := range s.sessions {
		if !ss.subscribed(r.Root) {
			continue
		}
		select {
		case ss.queue <- r:
		default:
			s.logger.Printf("server error :: subscriber %s is too slow, dropping connection\n", ss)
			ss.close()
		}
	}
}

// Roots returns the published roots.
func (s *Server) Roots() []string {
	return append([]string(nil), s.roots...)
}

func (s *Server) register(ss *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.exit:
		return false
	default:
	}
	s.sessions[ss] = struct{}{}
	return true
}

// track counts a connection handler about to start, unless Exit has begun.
// Holding mu orders every Add before the Wait in Exit.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.exit:
		return false
	default:
	}
	s.wg.Add(1)
	return true
}

func (s *Server) unregister(ss *session) {
	s.mu.Lock()
	delete(s.sessions, ss)
	s.mu.Unlock()
}

func (s *Server) served(root string) bool {
	for _, r := range s.roots {
		if r == root {
			return true
		}
	}
	return false
}
