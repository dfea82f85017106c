package relayws

import (
	"context"

	"github.com/rs/zerolog"
)

// Dispatcher fans notifications out to live connections. A failure on one
// connection never stops delivery to the others.
type Dispatcher struct {
	registry *Registry
	metrics  *relayMetrics
}

// Broadcast delivers n to every live connection bound to userID and returns
// how many accepted it. An error means n could not be encoded.
func (d *Dispatcher) Broadcast(ctx context.Context, userID string, n Notification) (int, error) {
	data, err := n.Encode()
	if err != nil {
		return 0, err
	}

	var delivered, failed int
	d.registry.ForEachLiveForUser(userID, func(c *Connection) {
		if d.deliver(ctx, c, data) {
			delivered++
		} else {
			failed++
		}
	})
	d.metrics.recordDelivery(delivered, failed)
	return delivered, nil
}

// BroadcastAll delivers n to every live authenticated connection.
func (d *Dispatcher) BroadcastAll(ctx context.Context, n Notification) (int, error) {
	data, err := n.Encode()
	if err != nil {
		return 0, err
	}

	var delivered, failed int
	d.registry.ForEachLive(func(c *Connection) {
		if d.deliver(ctx, c, data) {
			delivered++
		} else {
			failed++
		}
	})
	d.metrics.recordDelivery(delivered, failed)
	return delivered, nil
}

func (d *Dispatcher) deliver(ctx context.Context, c *Connection, data []byte) bool {
	if err := c.Transport.Send(data); err != nil {
		zerolog.Ctx(ctx).Warn().
			Err(err).
			Str("connection_id", c.ID).
			Msg("notification not delivered")
		return false
	}
	return true
}
