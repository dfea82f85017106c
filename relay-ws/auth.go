package relayws

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/rs/zerolog"
	"github.com/socialjobs/job-relay/relay-ws/connectiondao"
)

// Authenticator binds connections to users that present the shared secret.
type Authenticator struct {
	secret   []byte
	registry *Registry
	book     *Bookkeeper
	metrics  *relayMetrics
}

func newAuthenticator(secret string, registry *Registry, book *Bookkeeper, metrics *relayMetrics) *Authenticator {
	return &Authenticator{
		secret:   []byte(secret),
		registry: registry,
		book:     book,
		metrics:  metrics,
	}
}

// Authenticate validates the credential and binds connectionID to userID.
// The store write that follows a first bind is advisory and never changes the
// returned error.
func (a *Authenticator) Authenticate(ctx context.Context, connectionID, userID, credential string) error {
	err := a.authenticate(ctx, connectionID, userID, credential)
	a.metrics.recordAuth(err)
	return err
}

func (a *Authenticator) authenticate(ctx context.Context, connectionID, userID, credential string) error {
	logger := zerolog.Ctx(ctx)

	if userID == "" || credential == "" {
		return ErrMissingFields
	}
	if len(a.secret) == 0 || subtle.ConstantTimeCompare([]byte(credential), a.secret) != 1 {
		logger.Warn().Str("user_id", userID).Msg("authentication rejected")
		return ErrInvalidCredential
	}

	bound, err := a.registry.Bind(connectionID, userID)
	if err != nil {
		logger.Warn().Err(err).Str("user_id", userID).Msg("bind rejected")
		return err
	}
	if !bound {
		return nil
	}

	logger.Info().Str("user_id", userID).Msg("connection authenticated")
	a.book.Activate(ctx, connectiondao.Connection{
		ConnectionID: connectionID,
		UserID:       userID,
		Active:       true,
		ConnectedAt:  time.Now(),
	})
	return nil
}
