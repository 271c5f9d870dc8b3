package natsx

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/primaryrutabaga/ruby-gateway/pkg/schemas"
)

const contentTypeStructured = "application/cloudevents+json"

// conn is the subset of *nats.Conn used by Publisher.
type conn interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
}

// Publisher ships CloudEvents to NATS in structured JSON form.
type Publisher struct {
	nc conn
}

func NewPublisher(nc *nats.Conn) *Publisher {
	return &Publisher{nc: nc}
}

// Publish sends ce on subject and waits for the server to acknowledge the
// flush.
func (p *Publisher) Publish(ctx context.Context, subject string, ce schemas.CloudEvent) error {
	msg, err := NewMsg(subject, ce)
	if err != nil {
		return err
	}
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush %s: %w", subject, err)
	}
	return nil
}

// NewMsg builds the NATS message for ce. Nats-Msg-Id is source/id, the pair
// that identifies an event, so JetStream drops redeliveries.
func NewMsg(subject string, ce schemas.CloudEvent) (*nats.Msg, error) {
	body, err := json.Marshal(ce)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ce.ID(), err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = body
	msg.Header.Set("Content-Type", contentTypeStructured)
	msg.Header.Set(nats.MsgIdHdr, ce.Source()+"/"+ce.ID())
	msg.Header.Set("ce-specversion", ce.SpecVersion())
	msg.Header.Set("ce-id", ce.ID())
	msg.Header.Set("ce-source", ce.Source())
	msg.Header.Set("ce-type", ce.Type())
	return msg, nil
}
