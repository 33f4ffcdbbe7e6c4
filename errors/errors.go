package errors

import "fmt"

var (
	ErrWorkerPanic    = fmt.Errorf("worker panic")
	ErrUnknownSession = fmt.Errorf("unknown session")
	ErrNotJoined      = fmt.Errorf("session has not joined a room")
	ErrEmptyWords     = fmt.Errorf("no words have been found")
)
