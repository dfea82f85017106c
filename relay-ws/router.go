package relayws

import (
	"context"

	"github.com/rs/zerolog"
)

// Router turns one inbound frame into exactly one reply.
type Router struct {
	auth    *Authenticator
	metrics *relayMetrics
}

func (r *Router) Handle(ctx context.Context, connectionID string, data []byte) []byte {
	frame, err := ParseFrame(data)
	if err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("unparseable frame")
		return r.fail(ErrInvalidFormat)
	}
	r.metrics.recordFrame(frame.Type)

	switch frame.Type {
	case MsgAuthenticate:
		payload, err := frame.Authenticate()
		if err != nil {
			return r.fail(err)
		}
		if err := r.auth.Authenticate(ctx, connectionID, string(payload.UserID), payload.Secret()); err != nil {
			return r.fail(err)
		}
		return AuthenticatedMessage()

	case MsgJobUpdate:
		// read-only: the payload is never inspected
		return r.fail(ErrReadOnly)

	case MsgPing:
		return PongMessage()

	default:
		zerolog.Ctx(ctx).Debug().Str("type", string(frame.Type)).Msg("unknown frame type")
		return r.fail(ErrUnknownType)
	}
}

func (r *Router) fail(err error) []byte {
	r.metrics.recordError(err)
	return ErrorMessage(replyText(err))
}
