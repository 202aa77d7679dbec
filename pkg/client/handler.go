package client

import (
	"bufio"
	"errors"
	"net"

	"github.com/ManouchehrRasoulli/fsevents/pkg/protocol"
)

// Auth logs into the server (sends the join packet). An empty username is
// sent as is and only accepted by servers running without a password file.
func (c *Client) Auth(conn net.Conn, r *bufio.Reader) error {
	err := c.write(conn, protocol.Join, protocol.JoinPayload{
		Username: c.username,
		Password: c.password,
	})
	if err != nil {
		return err
	}

	ack := protocol.AckJoinPayload{}
	if err = c.readAs(conn, r, protocol.AckJoin, &ack); err != nil {
		return err
	}

	if !ack.Ok {
		var subErr error
		if ack.Msg != "" {
			subErr = errors.New(ack.Msg)
		}
		return errors.Join(ErrClientAuthenticationFailed, subErr)
	}

	c.mu.Lock()
	c.session = ack.Session
	c.mu.Unlock()

	return nil
}

// Subscribe asks for live batches of the configured roots, every served root
// when none are configured.
func (c *Client) Subscribe(conn net.Conn, r *bufio.Reader) (protocol.AckSubscribePayload, error) {
	ack := protocol.AckSubscribePayload{}

	err := c.write(conn, protocol.Subscribe, protocol.SubscribePayload{
		Roots:  c.roots,
		Replay: c.replay,
		Since:  c.since,
	})
	if err != nil {
		return ack, err
	}

	if err = c.readAs(conn, r, protocol.AckSubscribe, &ack); err != nil {
		return ack, err
	}

	if !ack.Ok {
		return ack, errors.Join(ErrClientSubscriptionFailed, errors.New(ack.Msg))
	}

	return ack, nil
}
