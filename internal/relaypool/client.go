// Package relaypool wraps a go-nostr SimplePool behind the three network
// operations the core needs: a one-shot batch read, a counted broadcast and a
// live subscription.
package relaypool

import (
	"context"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/learnstr/learnstr/internal/config"
	"github.com/learnstr/learnstr/internal/ops"
)

// Client provides a high-level interface for interacting with Nostr relays
type Client struct {
	pool        *nostr.SimplePool
	relayConfig *config.Relays
	log         *ops.Logger
}

// New creates a new relay pool client with the given configuration
func New(ctx context.Context, relayConfig *config.Relays, log *ops.Logger) *Client {
	pool := nostr.NewSimplePool(ctx)
	return &Client{
		pool:        pool,
		relayConfig: relayConfig,
		log:         log.WithComponent("relaypool"),
	}
}

// Pool returns the underlying SimplePool for advanced operations
func (c *Client) Pool() *nostr.SimplePool {
	return c.pool
}

// QuerySync fetches all events matching the filter from the given relays in
// one batch, returning once every relay reached EOSE or the timeout elapsed.
func (c *Client) QuerySync(ctx context.Context, relays []string, filter nostr.Filter) ([]*nostr.Event, error) {
	if len(relays) == 0 {
		return nil, fmt.Errorf("no relays configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.QueryTimeout())
	defer cancel()

	// SubManyEose reports nothing when every relay is down, which would be
	// indistinguishable from an empty result. Connect first so total
	// unavailability surfaces as a transport failure, not an absence.
	reachable := 0
	var lastErr error
	for _, url := range relays {
		if _, err := c.pool.EnsureRelay(url); err != nil {
			c.log.LogRelayConnection(url, false, err)
			lastErr = err
			continue
		}
		reachable++
	}
	if reachable == 0 {
		return nil, fmt.Errorf("no relay reachable: %w", lastErr)
	}

	events := make([]*nostr.Event, 0)
	for relayEvent := range c.pool.SubManyEose(ctx, relays, nostr.Filters{filter}) {
		if relayEvent.Event != nil {
			events = append(events, relayEvent.Event)
		}
	}

	return events, nil
}

// Broadcast publishes an event to the given relays and reports how many
// accepted it. A zero count with a non-nil error means no relay took the
// event at all.
func (c *Client) Broadcast(ctx context.Context, relays []string, event *nostr.Event) (int, error) {
	if len(relays) == 0 {
		return 0, fmt.Errorf("no relays configured")
	}

	results := c.pool.PublishMany(ctx, relays, *event)

	var lastErr error
	accepted := 0
	for result := range results {
		if result.Error != nil {
			lastErr = result.Error
		} else {
			accepted++
		}
	}

	c.log.LogBroadcast(event.ID, accepted, len(relays), nil)

	if accepted == 0 && lastErr != nil {
		return 0, fmt.Errorf("no relay accepted the event: %w", lastErr)
	}

	return accepted, nil
}

// Subscribe opens a live subscription for the filters on the given relays.
// The returned channel closes when the context is cancelled.
func (c *Client) Subscribe(ctx context.Context, relays []string, filters nostr.Filters) <-chan *nostr.Event {
	eventChan := make(chan *nostr.Event, 100)

	go func() {
		defer close(eventChan)

		received := 0
		for relayEvent := range c.pool.SubMany(ctx, relays, filters) {
			if relayEvent.Event == nil {
				continue
			}
			received++

			select {
			case eventChan <- relayEvent.Event:
			case <-ctx.Done():
				c.log.Debug("subscription cancelled", "events", received)
				return
			}
		}

		c.log.Debug("subscription closed", "events", received)
	}()

	return eventChan
}

// Close closes all relay connections
func (c *Client) Close() {
	c.pool.Close("client shutting down")
}

// Seeds returns the configured seed relays
func (c *Client) Seeds() []string {
	if c.relayConfig == nil {
		return []string{}
	}
	return c.relayConfig.Seeds
}

// QueryTimeout returns the configured batch query timeout
func (c *Client) QueryTimeout() time.Duration {
	if c.relayConfig == nil || c.relayConfig.Policy.QueryTimeoutMs == 0 {
		return 8 * time.Second
	}
	return time.Duration(c.relayConfig.Policy.QueryTimeoutMs) * time.Millisecond
}

// ConnectTimeout returns the configured per-relay connect timeout
func (c *Client) ConnectTimeout() time.Duration {
	if c.relayConfig == nil || c.relayConfig.Policy.ConnectTimeoutMs == 0 {
		return 5 * time.Second
	}
	return time.Duration(c.relayConfig.Policy.ConnectTimeoutMs) * time.Millisecond
}
