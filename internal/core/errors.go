package core

import (
	"errors"
	"fmt"

	"github.com/vovakirdan/relaychat/internal/proto"
)

var (
	ErrNicknameInUse    = errors.New("nickname in use")
	ErrAlreadyInChannel = errors.New("already in channel")
	ErrNotInChannel     = errors.New("not in channel")
	ErrChannelNotFound  = errors.New("channel not found")
	ErrNicknameRequired = errors.New("nickname required")
	ErrSessionNotFound  = errors.New("session not found")
)

var sentinelCodes = map[error]proto.ErrorCode{
	ErrNicknameInUse:    proto.ErrNicknameInUse,
	ErrAlreadyInChannel: proto.ErrAlreadyInChannel,
	ErrNotInChannel:     proto.ErrNotInChannel,
	ErrChannelNotFound:  proto.ErrChannelNotFound,
	ErrNicknameRequired: proto.ErrInvalidCommand,
	ErrSessionNotFound:  proto.ErrConnectionError,
}

// Error wraps a code and human-readable message.
type Error struct {
	Code    proto.ErrorCode
	Message string
	err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.err
}

func coreError(sentinel error, format string, args ...any) *Error {
	return &Error{
		Code:    sentinelCodes[sentinel],
		Message: fmt.Sprintf(format, args...),
		err:     sentinel,
	}
}

// CodeOf maps err to the wire error code. Unknown errors map to the empty code.
func CodeOf(err error) proto.ErrorCode {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	var de *proto.DecodeError
	if errors.As(err, &de) {
		return de.Code()
	}
	for sentinel, code := range sentinelCodes {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return ""
}

// ErrorResponse converts err into an ERROR response. Errors without a known code are
// reported as a generic internal failure.
func ErrorResponse(err error) *proto.Response {
	var (
		resp proto.Response
		ce   *Error
		de   *proto.DecodeError
	)
	switch {
	case errors.As(err, &ce):
		resp = proto.Failure(ce.Code, ce.Message)
	case errors.As(err, &de):
		resp = proto.Failure(de.Code(), "Invalid command: "+de.Reason)
	default:
		if code := CodeOf(err); code != "" {
			resp = proto.Failure(code, err.Error())
		} else {
			resp = proto.Failure("", "internal server error")
		}
	}
	return &resp
}
