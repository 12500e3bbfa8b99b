package room

import "errors"

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room is full")
	ErrTooManyRooms = errors.New("too many rooms")
	ErrNotHost      = errors.New("not the room host")
	ErrNotMember    = errors.New("not a room member")
)
