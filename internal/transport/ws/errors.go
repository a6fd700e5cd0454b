package ws

import "errors"

var (
	// ErrConnectionClosed is returned when writing to a closed connection.
	ErrConnectionClosed = errors.New("websocket connection closed")
	// ErrSlowConsumer is returned when the send buffer of a connection is full.
	ErrSlowConsumer = errors.New("websocket send buffer full")
	// ErrUnknownFrame is returned for client frames with an unsupported type.
	ErrUnknownFrame = errors.New("unknown frame type")
)
