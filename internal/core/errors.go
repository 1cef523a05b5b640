package core

import "errors"

// Error taxonomy surfaced to signaling clients. Everything except
// persistence failures ends up in a response slot as {error: <message>};
// none of these terminate a channel.
var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrRoomNotFound        = errors.New("room not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrTransportNotFound   = errors.New("transport not found")
	ErrConsumerNotFound    = errors.New("consumer not found")
	ErrInvalidDirection    = errors.New("invalid direction")
	ErrNotSendTransport    = errors.New("not a send transport")
	ErrNotRoomOwner        = errors.New("not the room owner")
	ErrTimeout             = errors.New("timeout")
)
