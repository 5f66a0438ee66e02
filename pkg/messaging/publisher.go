package messaging

import "fmt"

// IPublisher sends payloads to a fixed topic.
type IPublisher interface {
	PublishMessage(payload []byte) error
	Close()
}

// Publisher binds a session to one topic.
type Publisher struct {
	session *Session
	topic   string
}

func NewPublisher(session *Session, topic string) *Publisher {
	return &Publisher{session: session, topic: topic}
}

// PublishMessage queues payload on the topic. It does not wait for the
// broker; delivery is at-least-once once the session is connected.
func (p *Publisher) PublishMessage(payload []byte) error {
	if err := p.session.Publish(p.topic, payload); err != nil {
		return fmt.Errorf("failed to publish message on %s: %w", p.topic, err)
	}
	return nil
}

// Close disconnects the underlying session.
func (p *Publisher) Close() {
	p.session.Disconnect()
}
