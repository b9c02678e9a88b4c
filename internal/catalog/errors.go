package catalog

import "errors"

var (
	ErrSegmentNotFound = errors.New("segment not found")
	ErrVideoNotFound   = errors.New("video not found")
	ErrJobNotFound     = errors.New("job not found")
	ErrJobActive       = errors.New("a job of this type is already pending or running")
)
