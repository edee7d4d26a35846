// Package stream mirrors engine events onto NATS subjects so external
// consumers (risk monitors, settlement jobs) can follow engine
// activity without a direct connection.
package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/luxfi/log"
	"github.com/luxfi/margin/pkg/margin"
	"github.com/nats-io/nats.go"
)

// SubjectPrefix is the root of all published subjects; each event goes
// to <prefix>.<event type>.
const SubjectPrefix = "margin.events"

// Publisher forwards engine events to NATS.
type Publisher struct {
	nc     *nats.Conn
	logger log.Logger
}

// NewPublisher connects to NATS at the given URL.
func NewPublisher(url string, logger log.Logger) (*Publisher, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	logger.Info("connected to NATS", "url", url)
	return &Publisher{nc: nc, logger: logger}, nil
}

// Run drains the event stream until the context ends or the stream
// closes. Publish failures are logged and skipped; the stream must
// keep draining so the engine's event buffer never backs up.
func (p *Publisher) Run(ctx context.Context, events <-chan margin.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.publish(ev)
		}
	}
}

func (p *Publisher) publish(ev margin.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("encode event", "type", ev.Type, "error", err)
		return
	}

	subject := fmt.Sprintf("%s.%s", SubjectPrefix, ev.Type)
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn("publish event", "subject", subject, "error", err)
	}
}

// Close flushes and closes the NATS connection.
func (p *Publisher) Close() {
	p.nc.Flush()
	p.nc.Close()
}
