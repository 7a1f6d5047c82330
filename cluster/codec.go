package cluster

import (
	"fmt"

	"github.com/2se/leaderlink/channel"
)

// request writes one framed request: opcode, session id, then body. Once
// BeginRequest succeeds the request side is released on every return path.
func request(ch channel.Channel, opcode byte, sessionID int32, body func(channel.Channel) error) (err error) {
	if err = ch.BeginRequest(); err != nil {
		return err
	}
	defer func() {
		if endErr := ch.EndRequest(); err == nil {
			err = endErr
		}
	}()

	if err = ch.WriteByte(opcode); err != nil {
		return err
	}
	if err = ch.WriteInt(sessionID); err != nil {
		return err
	}
	if body != nil {
		err = body(ch)
	}
	return err
}

// message writes a framed payload that expects no response.
func message(ch channel.Channel, body func(channel.Channel) error) (err error) {
	if err = ch.BeginRequest(); err != nil {
		return err
	}
	defer func() {
		if endErr := ch.EndRequest(); err == nil {
			err = endErr
		}
	}()

	return body(ch)
}

// response waits for the reply to sessionID and hands it to read. The
// response is released even when read fails or panics.
func response(ch channel.Channel, sessionID int32, read func(channel.Channel) error) error {
	if err := ch.BeginResponse(sessionID); err != nil {
		return err
	}
	defer ch.EndResponse()

	if read == nil {
		return nil
	}
	return read(ch)
}

func writeBytes(p []byte) func(channel.Channel) error {
	return func(ch channel.Channel) error {
		return ch.WriteBytes(p)
	}
}

// recovered turns a panic raised during an exchange into an error.
func recovered(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("cluster: panic during exchange: %v", r)
	}
}
