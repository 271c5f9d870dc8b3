package natsx

import "errors"

var (
	ErrInvalidToken = errors.New("invalid subject token")
	ErrInvalidClass = errors.New("subject class not allowed")
)
