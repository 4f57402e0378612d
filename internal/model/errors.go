package model

import "errors"

var (
	// Forum related errors
	ErrForumLocked = errors.New("forum is locked")
)
