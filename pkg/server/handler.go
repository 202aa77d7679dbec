package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ManouchehrRasoulli/fsevents/pkg/journal"
	"github.com/ManouchehrRasoulli/fsevents/pkg/protocol"
	"github.com/google/uuid"
)

var (
	ErrServerAuthenticationFailed = errors.New("authentication failed")
	ErrServerInvalidPacketType    = errors.New("invalid packet type received")
	ErrServerAlreadySubscribed    = errors.New("connection is already subscribed")
	ErrServerUnknownRoot          = errors.New("root is not served")
)

const writeTimeout = 10 * time.Second

// session
// one client connection. Writes from the handler and the batch writer are
// serialized by wmu.
type session struct {
	id       string
	username string
	conn     net.Conn

	wmu sync.Mutex
	sec uint64

	mu     sync.Mutex
	active bool
	roots  map[string]struct{} // empty: every root

	queue     chan journal.Record
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(conn net.Conn, queueSize int) *session {
	return &session{
		id:    uuid.NewString(),
		conn:  conn,
		queue: make(chan journal.Record, queueSize),
		done:  make(chan struct{}),
	}
}

func (ss *session) String() string {
	return fmt.Sprintf("{session: %s, user: %q, remote: %s}", ss.id, ss.username, ss.conn.RemoteAddr())
}

func (ss *session) close() {
	ss.closeOnce.Do(func() {
		close(ss.done)
		_ = ss.conn.Close()
	})
}

func (ss *session) closed() bool {
	select {
	case <-ss.done:
		return true
	default:
		return false
	}
}

func (ss *session) subscribe(roots []string) bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.active {
		return false
	}
	ss.roots = make(map[string]struct{}, len(roots))
	for _, r := range roots {
		ss.roots[r] = struct{}{}
	}
	ss.active = true
	return true
}

func (ss *session) subscribed(root string) bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.active && ss.match(root)
}

// match must be called with mu held.
func (ss *session) match(root string) bool {
	if len(ss.roots) == 0 {
		return true
	}
	_, ok := ss.roots[root]
	return ok
}

// write sends one frame. A zero sec takes the next session sequence.
func (ss *session) write(sec uint64, t protocol.Type, payload interface{}) error {
	ss.wmu.Lock()
	defer ss.wmu.Unlock()

	if sec == 0 {
		ss.sec++
		sec = ss.sec
	}

	if err := ss.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return protocol.Write(ss.conn, sec, t, payload)
}

func batchOf(r journal.Record) protocol.BatchPayload {
	return protocol.BatchPayload{
		Seq:   r.Seq,
		Root:  r.Root,
		Time:  r.Time,
		Types: r.Types,
		Paths: r.Paths,
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()

	ss := newSession(conn, s.queueSize)
	if !s.register(ss) {
		_ = conn.Close()
		return
	}
	defer s.unregister(ss)
	defer ss.close()

	r := bufio.NewReader(conn)
	username, err := s.joinHandler(ss, r)
	if err != nil {
		s.logger.Printf("server error :: join %s, %v\n", ss, err)
		return
	}
	if username != "" {
		defer s.um.UnsetAuthenticatedUser(username)
	}
	s.logger.Printf("server :: joined %s\n", ss)

	for {
		req, err := protocol.Read(r)
		if err != nil {
			if !ss.closed() && !errors.Is(err, io.EOF) {
				s.logger.Printf("server error :: %s, %v\n", ss, err)
			}
			return
		}

		switch req.Type {
		case protocol.Subscribe:
			err = s.subscribeHandler(ss, req)
		case protocol.RequestReplay:
			err = s.replayHandler(ss, req)
		default:
			s.logger.Printf("server error :: %s, %v (%s)\n", ss, ErrServerInvalidPacketType, req.Type)
			return
		}

		if err != nil {
			s.logger.Printf("server error :: %s, %v\n", ss, err)
			if !errors.Is(err, ErrServerAlreadySubscribed) && !errors.Is(err, ErrServerUnknownRoot) {
				return
			}
		}
	}
}

// joinHandler expects a join packet as the first frame of a connection and
// answers it. It returns the logged in username, empty when the server runs
// without a user manager.
func (s *Server) joinHandler(ss *session, r *bufio.Reader) (string, error) {
	req, err := protocol.Read(r)
	if err != nil {
		return "", err
	}

	host, _, _ := net.SplitHostPort(ss.conn.RemoteAddr().String())
	ack := protocol.AckJoinPayload{}
	var username string

	switch {
	case req.Type != protocol.Join:
		ack.Msg = "invalid packet type"
	case s.um == nil:
		ack.Ok = true
	default:
		p := protocol.JoinPayload{}
		if err := req.Unpack(&p); err != nil {
			ack.Msg = fmt.Sprintf("invalid payload. %v", err)
		} else if err := s.um.Authenticate(p.Username, p.Password, host); err != nil {
			ack.Msg = err.Error()
		} else {
			ack.Ok = true
			username = p.Username
		}
	}

	if ack.Ok {
		ack.Session = ss.id
		ss.username = username
	}

	if err := ss.write(req.Sec+1, protocol.AckJoin, ack); err != nil {
		if username != "" {
			s.um.UnsetAuthenticatedUser(username)
		}
		return "", err
	}

	if !ack.Ok {
		return "", errors.Join(ErrServerAuthenticationFailed, fmt.Errorf("host: %q, %s", host, ack.Msg))
	}

	return username, nil
}

// subscribeHandler activates live delivery for the session. The subscriber
// is registered before the journal backlog is read, so a batch published in
// between shows up in both and is skipped by sequence in the writer.
func (s *Server) subscribeHandler(ss *session, req protocol.Data) error {
	p := protocol.SubscribePayload{}
	if err := req.Unpack(&p); err != nil {
		return err
	}

	roots := make([]string, 0, len(p.Roots))
	var unknown []string
	for _, root := range p.Roots {
		root = filepath.Clean(root)
		if !s.served(root) {
			unknown = append(unknown, root)
			continue
		}
		roots = append(roots, root)
	}

	ack := protocol.AckSubscribePayload{Roots: roots}
	if len(roots) == 0 {
		ack.Roots = s.Roots()
	}

	var failure error
	switch {
	case len(unknown) > 0:
		failure = errors.Join(ErrServerUnknownRoot, fmt.Errorf("%s", strings.Join(unknown, ", ")))
	case !ss.subscribe(roots):
		failure = ErrServerAlreadySubscribed
	}
	if failure != nil {
		ack.Msg = failure.Error()
		if err := ss.write(req.Sec+1, protocol.AckSubscribe, ack); err != nil {
			return err
		}
		return failure
	}

	var backlog []journal.Record
	if s.j != nil {
		last, err := s.j.Last()
		if err != nil {
			return err
		}
		ack.Last = last

		if p.Replay {
			records, err := s.j.Since(p.Since, 0)
			if err != nil {
				return err
			}
			for _, rec := range records {
				if ss.subscribed(rec.Root) {
					backlog = append(backlog, rec)
				}
			}
		}
	}

	ack.Ok = true
	if err := ss.write(req.Sec+1, protocol.AckSubscribe, ack); err != nil {
		return err
	}
	s.logger.Printf("server :: subscribed %s to %v, backlog %d\n", ss, ack.Roots, len(backlog))

	s.wg.Add(1)
	go s.writer(ss, backlog)
	return nil
}

func (s *Server) writer(ss *session, backlog []journal.Record) {
	defer s.wg.Done()

	var last uint64
	for _, r := range backlog {
		if err := ss.write(0, protocol.BatchNotify, batchOf(r)); err != nil {
			s.logger.Printf("server error :: backlog %s, %v\n", ss, err)
			ss.close()
			return
		}
		last = r.Seq
	}

	for {
		select {
		case r := <-ss.queue:
			if r.Seq <= last {
				continue
			}
			if err := ss.write(0, protocol.BatchNotify, batchOf(r)); err != nil {
				s.logger.Printf("server error :: notify %s, %v\n", ss, err)
				ss.close()
				return
			}
			last = r.Seq
		case <-ss.done:
			return
		}
	}
}

func (s *Server) replayHandler(ss *session, req protocol.Data) error {
	p := protocol.RequestReplayPayload{}
	if err := req.Unpack(&p); err != nil {
		return err
	}

	res := protocol.ResponseReplayPayload{Batches: []protocol.BatchPayload{}}
	if s.j == nil {
		res.Msg = "journal is disabled"
		return ss.write(req.Sec+1, protocol.ResponseReplay, res)
	}

	records, err := s.j.Since(p.Since, p.Limit)
	if err != nil {
		res.Msg = err.Error()
		return ss.write(req.Sec+1, protocol.ResponseReplay, res)
	}

	ss.mu.Lock()
	for _, r := range records {
		if ss.match(r.Root) {
			res.Batches = append(res.Batches, batchOf(r))
		}
	}
	ss.mu.Unlock()

	if res.Last, err = s.j.Last(); err != nil {
		return err
	}

	return ss.write(req.Sec+1, protocol.ResponseReplay, res)
}
