package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	redisclient "github.com/reliefwallet/credential-engine/internal/redis"
)

const (
	KindCredentialIssued  = "credential_issued"
	KindCredentialClaimed = "credential_claimed"
	KindDisbursed         = "disbursed"
	KindSessionResolved   = "session_resolved"
)

type publisher interface {
	Publish(ctx context.Context, channel string, event Event) error
}

// Dispatcher sends fire-and-forget notifications. Delivery failures are
// logged and never reach the caller.
type Dispatcher struct {
	pub     publisher
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewDispatcher(pub publisher, timeout time.Duration) *Dispatcher {
	return &Dispatcher{pub: pub, timeout: timeout}
}

// Notify publishes to the user's notification channel in the background.
// An empty userID is ignored.
func (d *Dispatcher) Notify(ctx context.Context, userID, kind string, data any) {
	if userID == "" {
		return
	}
	d.send(ctx, redisclient.NotificationChannel(userID), kind, data)
}

// SessionResolved publishes a session's new state to its event channel.
func (d *Dispatcher) SessionResolved(ctx context.Context, sessionID string, data any) {
	d.send(ctx, redisclient.SessionChannel(sessionID), KindSessionResolved, data)
}

func (d *Dispatcher) send(ctx context.Context, channel, kind string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Str("kind", kind).Msg("encoding notification")
		return
	}

	// Detach from the request so a finished request does not cancel delivery.
	base := context.WithoutCancel(ctx)

	d.wg.Go(func() {
		ctx, cancel := context.WithTimeout(base, d.timeout)
		defer cancel()

		if err := d.pub.Publish(ctx, channel, Event{Type: kind, Data: payload}); err != nil {
			log.Warn().
				Err(err).
				Str("channel", channel).
				Str("kind", kind).
				Msg("notification delivery failed")
		}
	})
}

// Wait blocks until in-flight notifications finish. Used at shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
