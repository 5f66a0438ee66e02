package messaging

import (
	"context"

	"github.com/rs/zerolog/log"
)

// IConsumer delivers the messages of a topic to a handler.
type IConsumer interface {
	ConsumeMessage(ctx context.Context)
	SetHandler(handler Handler)
}

// Consumer subscribes one topic through a session.
type Consumer struct {
	session *Session
	topic   string
	handler Handler
}

func NewConsumer(session *Session, topic string, handler Handler) *Consumer {
	return &Consumer{session: session, topic: topic, handler: handler}
}

func (c *Consumer) SetHandler(handler Handler) {
	c.handler = handler
}

// ConsumeMessage subscribes to the topic and blocks until ctx is cancelled,
// then unsubscribes.
func (c *Consumer) ConsumeMessage(ctx context.Context) {
	if c.handler == nil {
		log.Warn().Str("topic", c.topic).Msg("consumer: no handler set")
		return
	}
	if err := c.session.Subscribe(c.topic, c.handler); err != nil {
		log.Error().Err(err).Str("topic", c.topic).Msg("consumer: subscribe failed")
		return
	}

	<-ctx.Done()

	if err := c.session.Unsubscribe(c.topic); err != nil {
		log.Debug().Err(err).Str("topic", c.topic).Msg("consumer: unsubscribe failed")
	}
}
