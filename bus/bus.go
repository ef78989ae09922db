// Package bus implements the typed, synchronous publish/subscribe registry nodes communicate over.
// A topic is bound to exactly one message type. Subscribers only see messages published during the
// current tick; nothing is queued across ticks.
package bus

import (
	"reflect"
	"sort"

	"github.com/pkg/errors"
)

// ErrTypeMismatch is returned when a topic is used with a type other than the one it is bound to.
var ErrTypeMismatch = errors.New("topic type mismatch")

// Direction tells whether a node publishes to or subscribes to a topic.
type Direction int

const (
	// Publishes marks a binding the node writes to.
	Publishes Direction = iota
	// Subscribes marks a binding the node reads from.
	Subscribes
)

func (d Direction) String() string {
	if d == Publishes {
		return "publishes"
	}
	return "subscribes"
}

// Binding is one topic a node is attached to.
type Binding struct {
	Topic     string
	Type      reflect.Type
	Direction Direction
}

// TopicInfo describes a declared topic.
type TopicInfo struct {
	Name        string
	Type        string
	Publishers  int
	Subscribers int
}

type topic struct {
	name        string
	typ         reflect.Type
	value       any
	stamp       uint64
	publishers  int
	subscribers int
}

// Bus is the registry of topics of a single session. It is not safe for concurrent use; the scheduler
// drives it from one goroutine.
type Bus struct {
	topics map[string]*topic
	tick   uint64
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{topics: map[string]*topic{}}
}

// Declare binds name to typ. Declaring a topic again with the same type is a no-op.
func (b *Bus) Declare(name string, typ reflect.Type) error {
	_, err := b.declare(name, typ)
	return err
}

func (b *Bus) declare(name string, typ reflect.Type) (*topic, error) {
	if name == "" {
		return nil, errors.New("topic name must not be empty")
	}
	if t, ok := b.topics[name]; ok {
		if t.typ != typ {
			return nil, errors.Wrapf(ErrTypeMismatch, "topic %q carries %v, not %v", name, t.typ, typ)
		}
		return t, nil
	}
	t := &topic{name: name, typ: typ}
	b.topics[name] = t
	return t, nil
}

// Check returns an error unless the binding refers to a declared topic of the same type.
func (b *Bus) Check(binding Binding) error {
	t, ok := b.topics[binding.Topic]
	if !ok {
		return errors.Errorf("topic %q was never declared", binding.Topic)
	}
	if t.typ != binding.Type {
		return errors.Wrapf(ErrTypeMismatch, "topic %q carries %v, not %v", binding.Topic, t.typ, binding.Type)
	}
	return nil
}

// BeginTick starts a new tick. Messages published before it are no longer visible.
func (b *Bus) BeginTick() {
	b.tick++
}

// Tick returns the number of ticks begun so far.
func (b *Bus) Tick() uint64 {
	return b.tick
}

// Topics lists the declared topics ordered by name.
func (b *Bus) Topics() []TopicInfo {
	infos := make([]TopicInfo, 0, len(b.topics))
	for _, t := range b.topics {
		infos = append(infos, TopicInfo{
			Name:        t.name,
			Type:        t.typ.String(),
			Publishers:  t.publishers,
			Subscribers: t.subscribers,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Publisher writes messages of type T to one topic.
type Publisher[T any] struct {
	bus   *Bus
	topic *topic
}

// NewPublisher declares name as a topic of T and returns a publisher for it.
func NewPublisher[T any](b *Bus, name string) (*Publisher[T], error) {
	t, err := b.declare(name, reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	t.publishers++
	return &Publisher[T]{bus: b, topic: t}, nil
}

// Publish makes msg visible to every subscriber of the topic for the rest of the current tick. A
// later publish in the same tick replaces it.
func (p *Publisher[T]) Publish(msg T) {
	p.topic.value = msg
	p.topic.stamp = p.bus.tick
}

// Binding returns the binding of the publisher.
func (p *Publisher[T]) Binding() Binding {
	return Binding{Topic: p.topic.name, Type: p.topic.typ, Direction: Publishes}
}

// Subscription reads messages of type T from one topic.
type Subscription[T any] struct {
	bus   *Bus
	topic *topic
}

// NewSubscription declares name as a topic of T and returns a subscription to it.
func NewSubscription[T any](b *Bus, name string) (*Subscription[T], error) {
	t, err := b.declare(name, reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	t.subscribers++
	return &Subscription[T]{bus: b, topic: t}, nil
}

// Latest returns the message published to the topic during the current tick. The second value is
// false if nothing was published this tick.
func (s *Subscription[T]) Latest() (T, bool) {
	var zero T
	if s.topic.value == nil || s.topic.stamp != s.bus.tick || s.bus.tick == 0 {
		return zero, false
	}
	msg, ok := s.topic.value.(T)
	if !ok {
		return zero, false
	}
	return msg, true
}

// Binding returns the binding of the subscription.
func (s *Subscription[T]) Binding() Binding {
	return Binding{Topic: s.topic.name, Type: s.topic.typ, Direction: Subscribes}
}
