package aggregate

import (
	"context"
	"log/slog"
	"time"

	"marketdata/internal/provider"
	"marketdata/internal/quote"
)

// Poller pulls a symbol's quote on a fixed interval and publishes results
// to a channel and an observer list. It replaces a push feed for vendors
// that only support polling. Cancellation stops the ticker deterministically
// and closes the updates channel.
type Poller struct {
	agg       *Aggregator
	symbol    string
	interval  time.Duration
	updates   chan quote.Quote
	observers []func(quote.Quote)
	log       *slog.Logger
}

func NewPoller(agg *Aggregator, symbol string, interval time.Duration, observers ...func(quote.Quote)) *Poller {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Poller{
		agg:       agg,
		symbol:    symbol,
		interval:  interval,
		updates:   make(chan quote.Quote, 16),
		observers: observers,
		log:       agg.log.With("poller", symbol),
	}
}

// Updates delivers each successfully polled quote. The channel is closed
// when Run returns; a slow consumer drops updates rather than stalling
// the poll loop.
func (p *Poller) Updates() <-chan quote.Quote {
	return p.updates
}

// Run polls until ctx is cancelled. It blocks; callers run it in a
// goroutine and cancel the context to stop.
func (p *Poller) Run(ctx context.Context) {
	defer close(p.updates)
	t := time.NewTicker(p.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("poller stopped")
			return
		case <-t.C:
		}

		tickCtx, cancel := context.WithTimeout(ctx, p.interval)
		q, err := p.agg.GetQuote(tickCtx, p.symbol)
		cancel()
		if err != nil {
			if provider.IsCancellation(err) && ctx.Err() != nil {
				p.log.Info("poller stopped")
				return
			}
			p.log.Warn("poll failed", "err", err)
			continue
		}

		select {
		case p.updates <- q:
		default:
			// consumer is behind; drop rather than block the loop
		}
		for _, obs := range p.observers {
			obs(q)
		}
	}
}
