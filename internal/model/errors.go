package model

import "errors"

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrNotInRoom      = errors.New("not in room")
	ErrInvalidMessage = errors.New("invalid message")
	ErrNotFound       = errors.New("message not found")
	ErrForbidden      = errors.New("forbidden")
	ErrRateLimited    = errors.New("rate limited")
)

// Error codes sent to the acting connection.
const (
	CodeRoomNotFound   = "RoomNotFound"
	CodeNotInRoom      = "NotInRoom"
	CodeInvalidMessage = "InvalidMessage"
	CodeNotFound       = "NotFound"
	CodeForbidden      = "Forbidden"
	CodeRateLimited    = "RateLimited"
	CodeReplaced       = "Replaced"
	CodeInternal       = "Internal"
)

// ErrorCode maps an error chain to its wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return CodeRoomNotFound
	case errors.Is(err, ErrNotInRoom):
		return CodeNotInRoom
	case errors.Is(err, ErrInvalidMessage):
		return CodeInvalidMessage
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	default:
		return CodeInternal
	}
}
