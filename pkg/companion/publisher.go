package companion

import (
	"io"
	"sync"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"

	"github.com/robotalks/cardiotag/pkg/framework"
)

// Publisher forwards encoded records.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// PublishFunc is the func form of Publisher.
type PublishFunc func(topic string, payload []byte) error

// Publish implements Publisher.
func (f PublishFunc) Publish(topic string, payload []byte) error {
	return f(topic, payload)
}

// Publishers fans out to multiple publishers.
type Publishers []Publisher

// Publish implements Publisher. Every publisher is tried.
func (p Publishers) Publish(topic string, payload []byte) error {
	var errs framework.AggregatedError
	for _, pub := range p {
		errs.Add(pub.Publish(topic, payload))
	}
	return errs.Aggregate()
}

// Close closes publishers which are io.Closer.
func (p Publishers) Close() error {
	var errs framework.AggregatedError
	for _, pub := range p {
		if c, ok := pub.(io.Closer); ok {
			errs.Add(c.Close())
		}
	}
	return errs.Aggregate()
}

// LogPublisher logs the topics at verbose level 1.
type LogPublisher struct{}

// Publish implements Publisher.
func (LogPublisher) Publish(topic string, payload []byte) error {
	glog.V(1).Infof("PUB %s %d bytes", topic, len(payload))
	return nil
}

// Message is a published message.
type Message struct {
	Topic   string
	Payload []byte
}

// MemPublisher keeps published messages in memory.
type MemPublisher struct {
	lock     sync.Mutex
	messages []Message
}

// Publish implements Publisher.
func (p *MemPublisher) Publish(topic string, payload []byte) error {
	p.lock.Lock()
	p.messages = append(p.messages, Message{Topic: topic, Payload: append([]byte(nil), payload...)})
	p.lock.Unlock()
	return nil
}

// Messages returns a copy of messages published so far.
func (p *MemPublisher) Messages() []Message {
	p.lock.Lock()
	defer p.lock.Unlock()
	return append([]Message(nil), p.messages...)
}

// Topics returns the topics published so far in order.
func (p *MemPublisher) Topics() []string {
	p.lock.Lock()
	defer p.lock.Unlock()
	topics := make([]string, len(p.messages))
	for n, m := range p.messages {
		topics[n] = m.Topic
	}
	return topics
}

// DefaultDeviceID derives an ID from the host, used when the companion is
// not told which device it's talking to.
func DefaultDeviceID() string {
	id, err := machineid.ProtectedID("cardiotag")
	if err != nil {
		glog.Warningf("machine id unavailable: %v", err)
		return "cardiotag"
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}
