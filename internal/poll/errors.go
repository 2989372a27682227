package poll

import "errors"

var (
	ErrPollActive         = errors.New("a poll is already running")
	ErrNoActivePoll       = errors.New("no active poll")
	ErrOptionCount        = errors.New("poll needs exactly 12 options")
	ErrInvalidDuration    = errors.New("poll duration must be positive")
	ErrInvalidOption      = errors.New("option number must be between 1 and 12")
	ErrChannelUnreachable = errors.New("poll channel not found or not accessible")
	ErrResumeIncomplete   = errors.New("persisted poll is incomplete")
	ErrControllerClosed   = errors.New("poll controller closed")
)
