package eventbus

// Publisher is what domain services need to emit events.
type Publisher interface {
	PublishAsync(topic string, args ...interface{})
}

// Nop discards every event.
type Nop struct{}

func (Nop) PublishAsync(string, ...interface{}) {}
