package websocket

import "errors"

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
	ErrMarshalFailed    = errors.New("failed to marshal outbound frame")
	ErrNilConnection    = errors.New("nil connection")
	ErrNotRegistered    = errors.New("connection has not registered")
	ErrNotFound         = errors.New("connection not found")
)
