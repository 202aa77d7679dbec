package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// Delimiter terminates every frame on the wire. It is escaped inside the
// JSON body, where it can only appear within strings.
const Delimiter byte = '@'

var escapedDelimiter = []byte(`\u0040`)

var (
	ErrReadPacket        = errors.New("failed to read packet from connection")
	ErrUnmarshalPacket   = errors.New("failed to unmarshal packet data")
	ErrMarshalPacket     = errors.New("failed to marshal packet data")
	ErrWritePacket       = errors.New("failed to write packet to connection")
	ErrInconsistentWrite = errors.New("inconsistent data write: bytes written mismatch")
	ErrUnexpectedPacket  = errors.New("unexpected packet type")
	ErrInvalidPayload    = errors.New("invalid packet payload")
)

// NewData builds a frame around payload.
func NewData(sec uint64, t Type, payload interface{}) (Data, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return Data{}, errors.Join(ErrMarshalPacket, err)
	}
	return Data{
		Sec:     sec,
		Time:    time.Now(),
		Type:    t,
		Heading: nil,
		Payload: p,
	}, nil
}

func Encode(d Data) ([]byte, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, errors.Join(ErrMarshalPacket, err)
	}
	b = bytes.ReplaceAll(b, []byte{Delimiter}, escapedDelimiter)
	return append(b, Delimiter), nil
}

// Decode parses one frame, with or without its trailing delimiter.
func Decode(frame []byte) (Data, error) {
	frame = bytes.TrimSuffix(frame, []byte{Delimiter})
	d := Data{}
	if err := json.Unmarshal(frame, &d); err != nil {
		return Data{}, errors.Join(ErrUnmarshalPacket, err)
	}
	return d, nil
}

func WriteData(w io.Writer, d Data) error {
	b, err := Encode(d)
	if err != nil {
		return err
	}

	n, err := w.Write(b)
	if err != nil {
		return errors.Join(ErrWritePacket, err)
	}
	if n != len(b) {
		return errors.Join(ErrInconsistentWrite, fmt.Errorf("%d != %d", n, len(b)))
	}
	return nil
}

// Write builds and sends a frame in one step.
func Write(w io.Writer, sec uint64, t Type, payload interface{}) error {
	d, err := NewData(sec, t, payload)
	if err != nil {
		return err
	}
	return WriteData(w, d)
}

func Read(r *bufio.Reader) (Data, error) {
	frame, err := r.ReadBytes(Delimiter)
	if err != nil {
		return Data{}, errors.Join(ErrReadPacket, err)
	}
	return Decode(frame)
}

// ReadAs reads one frame, checks its type and decodes its payload into v.
func ReadAs(r *bufio.Reader, t Type, v interface{}) (Data, error) {
	d, err := Read(r)
	if err != nil {
		return d, err
	}
	if d.Type != t {
		return d, errors.Join(ErrUnexpectedPacket, fmt.Errorf("expect %s but received %s", t, d.Type))
	}
	return d, d.Unpack(v)
}

func (d Data) Unpack(v interface{}) error {
	if err := json.Unmarshal(d.Payload, v); err != nil {
		return errors.Join(ErrInvalidPayload, err)
	}
	return nil
}
