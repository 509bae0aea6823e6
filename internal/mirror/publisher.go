package mirror

import (
	"context"
	"fmt"
	"log"

	"fiatjaf.com/nostr"
)

// Publisher is the high-level mirror API: sign, broadcast to relays, and
// spool locally on failure. The orchestrator calls this from a background
// goroutine fed by a ledger subscription; it never sits on the ledger's
// publish path.
type Publisher struct {
	signer Signer
	pool   *RelayPool
	spool  *Spool
}

// NewPublisher creates a publisher from relay configuration, a signer, and
// a directory for the offline spool.
func NewPublisher(ctx context.Context, cfg Config, signer Signer, runtimeDir string) (*Publisher, error) {
	pool, err := NewRelayPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating relay pool: %w", err)
	}

	return &Publisher{
		signer: signer,
		pool:   pool,
		spool:  NewSpool(runtimeDir),
	}, nil
}

// Publish signs and broadcasts a regular (non-replaceable) event. If every
// relay fails, the event is spooled locally for a later drain. An error is
// returned only if both publishing and spooling fail.
func (p *Publisher) Publish(ctx context.Context, event *nostr.Event) error {
	if err := p.signer.Sign(ctx, event); err != nil {
		return fmt.Errorf("signing event: %w", err)
	}

	if err := p.pool.Publish(ctx, *event); err != nil {
		log.Printf("[mirror] publish failed, spooling event %s: %v", event.ID, err)
		if spoolErr := p.spool.Enqueue(event, p.pool.WriteRelayURLs()); spoolErr != nil {
			return fmt.Errorf("publish failed (%v) and spool failed: %w", err, spoolErr)
		}
		return nil
	}
	return nil
}

// PublishReplaceable signs and broadcasts a NIP-33 replaceable event, which
// must carry a "d" tag. Same spool-on-failure behavior as Publish.
func (p *Publisher) PublishReplaceable(ctx context.Context, event *nostr.Event) error {
	hasD := false
	for _, tag := range event.Tags {
		if len(tag) >= 2 && tag[0] == "d" {
			hasD = true
			break
		}
	}
	if !hasD {
		return fmt.Errorf("replaceable event must have a 'd' tag")
	}
	return p.Publish(ctx, event)
}

// DrainSpool attempts to send all spooled events to relays. Call this
// periodically from a background ticker.
func (p *Publisher) DrainSpool(ctx context.Context) (sent int, failed int, err error) {
	return p.spool.Drain(ctx, p.pool)
}

// SpoolCount returns the number of events waiting in the spool.
func (p *Publisher) SpoolCount() int {
	return p.spool.Count()
}

// Signer returns the publisher's signer.
func (p *Publisher) Signer() Signer {
	return p.signer
}

// Pool returns the publisher's relay pool, for subscription use.
func (p *Publisher) Pool() *RelayPool {
	return p.pool
}

// Close releases the signer and relay pool.
func (p *Publisher) Close() error {
	var firstErr error
	if err := p.signer.Close(); err != nil {
		firstErr = err
	}
	p.pool.Close()
	return firstErr
}
