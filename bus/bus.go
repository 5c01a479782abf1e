// bus.go
package bus

import (
	"context"
	"sync"
	"sync/atomic"
)

// -----------------------------------------------------------------------------
// Topics
// -----------------------------------------------------------------------------

// Wildcards: "+" matches exactly one token, "#" matches the remaining
// tokens (including none) and must be last.
const (
	SingleWild = "+"
	MultiWild  = "#"
)

// Topic is a sequence of string or int tokens.
type Topic []any

// T builds a Topic, panicking on tokens that are not string or int.
func T(tokens ...any) Topic {
	for _, tok := range tokens {
		switch tok.(type) {
		case string, int:
		default:
			panic("bus: topic tokens must be string or int")
		}
	}
	return Topic(tokens)
}

// -----------------------------------------------------------------------------
// Message
// -----------------------------------------------------------------------------

type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
	ReplyTo  Topic
}

// -----------------------------------------------------------------------------
// Subscription
// -----------------------------------------------------------------------------

type Subscription struct {
	topic Topic
	ch    chan *Message
	conn  *Connection // owning connection
}

func (s *Subscription) Topic() Topic             { return s.topic }
func (s *Subscription) Channel() <-chan *Message { return s.ch }
func (s *Subscription) Unsubscribe()             { s.conn.Unsubscribe(s) }

// -----------------------------------------------------------------------------
// Trie node
// -----------------------------------------------------------------------------

type node struct {
	children map[any]*node
	subs     []*Subscription
	retained *Message
}

func (n *node) child(tok any, create bool) *node {
	c, ok := n.children[tok]
	if ok || !create {
		return c
	}
	if n.children == nil {
		n.children = make(map[any]*node)
	}
	c = &node{}
	n.children[tok] = c
	return c
}

func (n *node) empty() bool {
	return len(n.subs) == 0 && len(n.children) == 0 && n.retained == nil
}

// -----------------------------------------------------------------------------
// Bus
// -----------------------------------------------------------------------------

type Bus struct {
	mu      sync.Mutex
	root    *node
	qLen    int
	replyID atomic.Uint64
}

// NewBus creates a new bus with the given subscription queue length.
func NewBus(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = 8 // safe default
	}
	return &Bus{root: &node{}, qLen: queueLen}
}

func (b *Bus) NewMessage(topic Topic, payload any, retained bool) *Message {
	return &Message{Topic: topic, Payload: payload, Retained: retained}
}

// Publish delivers msg to every matching subscription and updates the
// retained slot for its topic. A nil retained payload clears the slot.
func (b *Bus) Publish(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if msg.Retained {
		n := b.root
		for _, tok := range msg.Topic {
			n = n.child(tok, true)
		}
		if msg.Payload == nil {
			n.retained = nil
		} else {
			n.retained = msg
		}
	}

	var subs []*Subscription
	collectSubs(b.root, msg.Topic, &subs)
	for _, s := range subs {
		deliver(s, msg)
	}
}

func collectSubs(n *node, topic Topic, out *[]*Subscription) {
	if n == nil {
		return
	}
	if h := n.children[MultiWild]; h != nil {
		*out = append(*out, h.subs...)
	}
	if len(topic) == 0 {
		*out = append(*out, n.subs...)
		return
	}
	collectSubs(n.children[topic[0]], topic[1:], out)
	if topic[0] != SingleWild {
		collectSubs(n.children[SingleWild], topic[1:], out)
	}
}

func collectRetained(n *node, pattern Topic, out *[]*Message) {
	if n == nil {
		return
	}
	if len(pattern) == 0 {
		if n.retained != nil {
			*out = append(*out, n.retained)
		}
		return
	}
	switch pattern[0] {
	case MultiWild:
		var walk func(*node)
		walk = func(m *node) {
			if m.retained != nil {
				*out = append(*out, m.retained)
			}
			for _, c := range m.children {
				walk(c)
			}
		}
		walk(n)
	case SingleWild:
		for _, c := range n.children {
			collectRetained(c, pattern[1:], out)
		}
	default:
		collectRetained(n.children[pattern[0]], pattern[1:], out)
	}
}

// deliver never blocks: a full queue drops its oldest message.
func deliver(s *Subscription, msg *Message) {
	select {
	case s.ch <- msg:
	default:
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- msg:
		default:
		}
	}
}

func (b *Bus) addSubscription(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	for _, tok := range sub.topic {
		n = n.child(tok, true)
	}
	n.subs = append(n.subs, sub)

	var ret []*Message
	collectRetained(b.root, sub.topic, &ret)
	for _, m := range ret {
		deliver(sub, m)
	}
}

// removeSubscription drops sub from the trie, prunes empty nodes, and
// closes its channel. It reports false if sub was already removed.
func (b *Bus) removeSubscription(sub *Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	stack := make([]*node, 0, len(sub.topic))
	for _, tok := range sub.topic {
		stack = append(stack, n)
		if n = n.child(tok, false); n == nil {
			return false
		}
	}
	found := false
	for i, s := range n.subs {
		if s == sub {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return false
	}
	for i := len(sub.topic) - 1; i >= 0; i-- {
		parent := stack[i]
		key := sub.topic[i]
		if !parent.children[key].empty() {
			break
		}
		delete(parent.children, key)
	}
	close(sub.ch)
	return true
}

// -----------------------------------------------------------------------------
// Connection
// -----------------------------------------------------------------------------

type Connection struct {
	bus  *Bus
	mu   sync.Mutex
	subs []*Subscription
	id   string
}

// NewConnection creates a new connection bound to this bus.
func (b *Bus) NewConnection(id string) *Connection {
	return &Connection{bus: b, id: id}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) NewMessage(topic Topic, payload any, retained bool) *Message {
	return c.bus.NewMessage(topic, payload, retained)
}

// Publish sends a message via the bus.
func (c *Connection) Publish(msg *Message) { c.bus.Publish(msg) }

// Subscribe registers a subscription owned by this connection. Matching
// retained messages are queued immediately.
func (c *Connection) Subscribe(topic Topic) *Subscription {
	sub := &Subscription{
		topic: topic,
		ch:    make(chan *Message, c.bus.qLen),
		conn:  c,
	}
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	c.bus.addSubscription(sub)
	return sub
}

// Unsubscribe removes a subscription owned by this connection.
func (c *Connection) Unsubscribe(sub *Subscription) {
	c.mu.Lock()
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	c.bus.removeSubscription(sub)
}

// Disconnect closes all subscriptions and clears them.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()
	for _, sub := range subs {
		c.bus.removeSubscription(sub)
	}
}

// -----------------------------------------------------------------------------
// Request / Reply
// -----------------------------------------------------------------------------

// Request assigns msg a private reply topic, subscribes to it, and
// publishes msg. The caller owns the returned subscription.
func (c *Connection) Request(msg *Message) *Subscription {
	id := c.bus.replyID.Add(1)
	msg.ReplyTo = T("_reply", c.id, int(id))
	sub := c.Subscribe(msg.ReplyTo)
	c.Publish(msg)
	return sub
}

// RequestWait publishes msg and waits for the first reply.
func (c *Connection) RequestWait(ctx context.Context, msg *Message) (*Message, error) {
	sub := c.Request(msg)
	defer c.Unsubscribe(sub)
	select {
	case m := <-sub.Channel():
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reply answers req on its ReplyTo topic. Requests without one are ignored.
func (c *Connection) Reply(req *Message, payload any, retained bool) {
	if len(req.ReplyTo) == 0 {
		return
	}
	c.Publish(c.NewMessage(req.ReplyTo, payload, retained))
}
