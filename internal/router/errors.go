package router

import "errors"

var (
	ErrNoTeacher         = errors.New("classroom has no connected teacher")
	ErrRateLimitExceeded = errors.New("message rate limit exceeded")
)
