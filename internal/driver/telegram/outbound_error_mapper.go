package telegram

import (
	"errors"
	"strings"

	"ex-hermes/pkg/hermes"

	"github.com/gotd/td/tgerr"
)

// notFoundRPCTypes are RPC error types meaning the target message is gone.
// MESSAGE_NOT_MODIFIED and MESSAGE_EDIT_TIME_EXPIRED are absent: the message
// still exists in both cases.
var notFoundRPCTypes = map[string]struct{}{
	"MESSAGE_ID_INVALID":       {},
	"MESSAGE_DELETE_FORBIDDEN": {},
}

// rpcMessageNotModified is returned when an edit leaves text and markup as
// they already are.
const rpcMessageNotModified = "MESSAGE_NOT_MODIFIED"

func isNotModified(err error) bool {
	return tgerr.Is(err, rpcMessageNotModified)
}

func mapTelegramOutboundError(
	operation hermes.OutboundOperation,
	sink hermes.EventSink,
	err error,
) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, hermes.ErrInvalidOutboundRequest) || errors.Is(err, hermes.ErrOutboundUnsupported) {
		return err
	}

	outboundErr := &hermes.OutboundError{
		Operation: operation,
		Kind:      hermes.OutboundErrorKindUnknown,
		Platform:  sink.Platform,
		SinkID:    sink.ID,
		Cause:     err,
	}

	if retryAfter, ok := tgerr.AsFloodWait(err); ok {
		outboundErr.Kind = hermes.OutboundErrorKindRateLimited
		outboundErr.RetryAfter = retryAfter
		if rpcErr, hasRPC := tgerr.As(err); hasRPC {
			outboundErr.Code = rpcErr.Code
			outboundErr.Type = rpcErr.Type
		}

		return outboundErr
	}

	rpcErr, ok := tgerr.As(err)
	if !ok {
		return outboundErr
	}

	outboundErr.Code = rpcErr.Code
	outboundErr.Type = rpcErr.Type
	outboundErr.Kind = classifyTelegramRPCError(rpcErr)

	return outboundErr
}

func classifyTelegramRPCError(rpcErr *tgerr.Error) hermes.OutboundErrorKind {
	if rpcErr == nil {
		return hermes.OutboundErrorKindUnknown
	}

	errorType := strings.ToUpper(strings.TrimSpace(rpcErr.Type))
	if rpcErr.Code == 420 || rpcErr.Code == 429 || strings.Contains(errorType, "FLOOD") {
		return hermes.OutboundErrorKindRateLimited
	}
	if _, gone := notFoundRPCTypes[errorType]; gone {
		return hermes.OutboundErrorKindNotFound
	}

	switch {
	case rpcErr.Code == 303:
		return hermes.OutboundErrorKindTemporary
	case rpcErr.Code >= 400 && rpcErr.Code < 500:
		return hermes.OutboundErrorKindPermanent
	case rpcErr.Code >= 500:
		return hermes.OutboundErrorKindTemporary
	}

	return hermes.OutboundErrorKindUnknown
}
