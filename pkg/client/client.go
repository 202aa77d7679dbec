package client

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManouchehrRasoulli/fsevents/pkg/protocol"
)

var (
	ErrClientReadDeadline         = errors.New("failed to set read deadline on connection")
	ErrClientAuthenticationFailed = errors.New("authentication failed")
	ErrClientSubscriptionFailed   = errors.New("subscription rejected")
	ErrClientNotConnected         = errors.New("client is not connected")
	ErrClientReplayTimeout        = errors.New("timed out waiting for replay response")
)

const (
	DefaultTimeout = 30 * time.Second
)

// Consumer receives every batch in the order the server sends them.
type Consumer func(batch protocol.BatchPayload)

type Option func(*Client)

// WithRoots limits the subscription to the given roots.
func WithRoots(roots ...string) Option {
	return func(c *Client) {
		c.roots = append([]string(nil), roots...)
	}
}

// WithSince asks the server for the journaled batches after seq before the
// live ones.
func WithSince(seq uint64) Option {
	return func(c *Client) {
		c.replay = true
		c.since = seq
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

type Client struct {
	address  string
	username string
	password string
	tlsCfg   *tls.Config
	logger   *log.Logger
	consumer Consumer

	roots   []string
	replay  bool
	since   uint64
	timeout time.Duration

	mu      sync.Mutex
	conn    net.Conn
	session string
	sec     uint64
	wmu     sync.Mutex

	last     atomic.Uint64
	ready    chan struct{}
	replies  chan protocol.ResponseReplayPayload
	exit     chan struct{}
	exitOnce sync.Once
}

func NewClient(address, username, password string, tlsCfg *tls.Config, logger *log.Logger, consumer Consumer, opts ...Option) *Client {
	c := &Client{
		address:  address,
		username: username,
		password: password,
		tlsCfg:   tlsCfg,
		logger:   logger,
		consumer: consumer,
		timeout:  DefaultTimeout,
		ready:    make(chan struct{}),
		replies:  make(chan protocol.ResponseReplayPayload, 1),
		exit:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ready is closed once the subscription is acknowledged.
func (c *Client) Ready() <-chan struct{} {
	return c.ready
}

// Last returns the sequence of the latest batch handed to the consumer.
func (c *Client) Last() uint64 {
	return c.last.Load()
}

func (c *Client) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) Exit() error {
	c.exitOnce.Do(func() {
		close(c.exit)
		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.mu.Unlock()
	})
	return nil
}

func (c *Client) exited() bool {
	select {
	case <-c.exit:
		return true
	default:
		return false
	}
}

func (c *Client) dial() (net.Conn, error) {
	d := &net.Dialer{Timeout: c.timeout}
	if c.tlsCfg != nil {
		return tls.DialWithDialer(d, "tcp", c.address, c.tlsCfg)
	}
	return d.Dial("tcp", c.address)
}

// Run connects, logs in, subscribes and hands every received batch to the
// consumer until Exit is called or the connection fails.
func (c *Client) Run() error {
	conn, err := c.dial()
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.exited() {
		c.mu.Unlock()
		return conn.Close()
	}
	c.conn = conn
	c.mu.Unlock()
	defer conn.Close()

	c.logger.Printf("client :: connected to host %s ...\n", c.address)

	r := bufio.NewReader(conn)
	if err = c.Auth(conn, r); err != nil {
		return err
	}

	ack, err := c.Subscribe(conn, r)
	if err != nil {
		return err
	}
	c.logger.Printf("client :: subscribed to %v, server last sequence %d\n", ack.Roots, ack.Last)
	close(c.ready)

	if err = conn.SetReadDeadline(time.Time{}); err != nil {
		return errors.Join(ErrClientReadDeadline, err)
	}

	for {
		d, err := protocol.Read(r)
		if err != nil {
			if c.exited() {
				return nil
			}
			return err
		}

		switch d.Type {
		case protocol.BatchNotify:
			b := protocol.BatchPayload{}
			if err := d.Unpack(&b); err != nil {
				c.logger.Printf("client error :: %v\n", err)
				continue
			}
			c.consumer(b)
			c.last.Store(b.Seq)
		case protocol.ResponseReplay:
			res := protocol.ResponseReplayPayload{}
			if err := d.Unpack(&res); err != nil {
				c.logger.Printf("client error :: %v\n", err)
				continue
			}
			select {
			case c.replies <- res:
			default:
				c.logger.Printf("client error :: unexpected replay response dropped\n")
			}
		default:
			c.logger.Printf("client :: got unexpected packet %s !!\n", d.Type)
		}
	}
}

// Replay asks the server for up to limit journaled batches after since. It
// needs a running client.
func (c *Client) Replay(since uint64, limit int) (protocol.ResponseReplayPayload, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return protocol.ResponseReplayPayload{}, ErrClientNotConnected
	}

	if err := c.write(conn, protocol.RequestReplay, protocol.RequestReplayPayload{Since: since, Limit: limit}); err != nil {
		return protocol.ResponseReplayPayload{}, err
	}

	select {
	case res := <-c.replies:
		return res, nil
	case <-c.exit:
		return protocol.ResponseReplayPayload{}, ErrClientNotConnected
	case <-time.After(c.timeout):
		return protocol.ResponseReplayPayload{}, ErrClientReplayTimeout
	}
}

func (c *Client) write(conn net.Conn, t protocol.Type, payload interface{}) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.sec++
	return protocol.Write(conn, c.sec, t, payload)
}

func (c *Client) readAs(conn net.Conn, r *bufio.Reader, t protocol.Type, v interface{}) error {
	if err := conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return errors.Join(ErrClientReadDeadline, err)
	}
	_, err := protocol.ReadAs(r, t, v)
	return err
}

func (c *Client) String() string {
	return fmt.Sprintf("{address: %s, user: %q, session: %s}", c.address, c.username, c.Session())
}
