package transport

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/winfeed/winchat/api"
)

// DefaultPollInterval is used when PollerConfig leaves Interval zero.
const DefaultPollInterval = 3 * time.Second

type PollerConfig struct {
	// Client fetches conversation history. Required.
	Client *api.Client
	// Interval between polls. Zero means DefaultPollInterval.
	Interval time.Duration
}

// Poller is the request/response transport variant: a ticker fetches
// the conversation history and new messages (ids not seen before) are
// dispatched as inbound. It has no acknowledgment channel, so Ack
// reports ErrReceiptsUnsupported and delivery receipts are simply not
// part of this variant's behavior.
type Poller struct {
	client   *api.Client
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool

	seen map[string]bool
	wg   sync.WaitGroup
}

func NewPoller(config PollerConfig) *Poller {
	interval := config.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		client:   config.Client,
		interval: interval,
		seen:     make(map[string]bool),
	}
}

func (p *Poller) Connect(ctx context.Context, conv api.Conversation, events Events) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return context.Canceled
	}
	if p.cancel != nil {
		p.cancel()
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.wg.Add(1)
	go p.pollLoop(pollCtx, conv.PeerUsername, events)
	return nil
}

// Ack is unsupported: the poll variant has no receipt channel.
func (p *Poller) Ack(ctx context.Context, messageID string) error {
	return ErrReceiptsUnsupported
}

// Close stops the poll loop. No events are dispatched after it returns.
func (p *Poller) Close() error {
	p.mu.Lock()
	p.closed = true
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

func (p *Poller) pollLoop(ctx context.Context, peer string, events Events) {
	ticker := time.NewTicker(p.interval)
	defer func() {
		ticker.Stop()
		glog.V(5).Infof("poll loop exited, peer: %s", peer)
		p.wg.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx, peer, events)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context, peer string, events Events) {
	resp, err := p.client.History(ctx, peer)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// Transient failures keep the loop alive; the next tick retries.
		pollCycles.WithLabelValues("error").Inc()
		glog.Errorf("poll history for %s: %v", peer, err)
		return
	}
	pollCycles.WithLabelValues("ok").Inc()

	if resp.ConnectionID == "" {
		// No conversation yet.
		return
	}

	for _, msg := range resp.Messages {
		p.mu.Lock()
		dup := p.seen[msg.ID]
		if !dup {
			p.seen[msg.ID] = true
		}
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return
		}
		if !dup {
			events.OnMessage(msg)
		}
	}
}
