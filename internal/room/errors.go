package room

import "errors"

var (
	ErrRoomExists    = errors.New("room already exists")
	ErrRoomNotFound  = errors.New("room not found")
	ErrWrongPassword = errors.New("wrong password")
	ErrRoomFull      = errors.New("room is full")
	ErrAlreadyInRoom = errors.New("already in a room")
	ErrTooManyRooms  = errors.New("too many rooms")
)
