package scanning

import (
	"context"
	stderrors "errors"
	"syscall"
)

// classifyDialError maps a failed connect, read or write to a Reason. An
// explicit rejection from the peer or a router counts as unreachable;
// everything else means no answer was seen.
func classifyDialError(err error) Reason {
	if err == nil {
		return ReasonReplyReceived
	}
	if stderrors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return ReasonTimedOut
	}
	var errno syscall.Errno
	if stderrors.As(err, &errno) && isRejection(errno) {
		return ReasonIcmpUnreachable
	}
	return ReasonTimedOut
}
