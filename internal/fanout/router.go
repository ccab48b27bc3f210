// Package fanout routes outbound events to the sessions subscribed to a topic.
package fanout

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/twmb/murmur3"
	"go.uber.org/zap"

	"github.com/Gopher0727/TeamLoom/internal/protocol"
)

// Topic is either "group:<id>" or "user:<id>".
type Topic string

func GroupTopic(groupID uint) Topic {
	return Topic("group:" + strconv.FormatUint(uint64(groupID), 10))
}

func UserTopic(userID uint) Topic {
	return Topic("user:" + strconv.FormatUint(uint64(userID), 10))
}

// ParseTopic validates a topic string.
func ParseTopic(s string) (Topic, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || (kind != "group" && kind != "user") {
		return "", fmt.Errorf("invalid topic %q", s)
	}
	if _, err := strconv.ParseUint(id, 10, 64); err != nil {
		return "", fmt.Errorf("invalid topic %q", s)
	}
	return Topic(s), nil
}

// Subscriber is a live session handle. Deliver must not block; it reports
// false when the payload was dropped.
type Subscriber interface {
	SessionID() string
	Deliver(payload []byte) bool
}

// Publisher is implemented by Router (single node) and Relay (multi node).
type Publisher interface {
	Publish(ctx context.Context, topic Topic, ev protocol.Outbound, exclude string) error
}

type shard struct {
	mu     sync.RWMutex
	topics map[Topic]map[string]Subscriber
}

// Router is the in-process subscriber registry. Topics are spread over shards
// by murmur3 hash so unrelated topics never contend on one lock.
type Router struct {
	shards []*shard
	log    *zap.Logger
}

func NewRouter(shards int, log *zap.Logger) *Router {
	if shards <= 0 {
		shards = 1
	}
	r := &Router{shards: make([]*shard, shards), log: log}
	for i := range r.shards {
		r.shards[i] = &shard{topics: make(map[Topic]map[string]Subscriber)}
	}
	return r
}

func (r *Router) shardFor(topic Topic) *shard {
	return r.shards[murmur3.Sum32([]byte(topic))%uint32(len(r.shards))]
}

// Subscribe registers sub on topic. Subscribing twice is a no-op.
func (r *Router) Subscribe(topic Topic, sub Subscriber) {
	s := r.shardFor(topic)
	s.mu.Lock()
	defer s.mu.Unlock()

	subs, ok := s.topics[topic]
	if !ok {
		subs = make(map[string]Subscriber)
		s.topics[topic] = subs
	}
	subs[sub.SessionID()] = sub
}

// Unsubscribe removes sub from topic. Removing an absent handle is a no-op.
func (r *Router) Unsubscribe(topic Topic, sub Subscriber) {
	s := r.shardFor(topic)
	s.mu.Lock()
	defer s.mu.Unlock()

	subs, ok := s.topics[topic]
	if !ok {
		return
	}
	if cur, ok := subs[sub.SessionID()]; ok && cur == sub {
		delete(subs, sub.SessionID())
	}
	if len(subs) == 0 {
		delete(s.topics, topic)
	}
}

// Publish encodes ev once and delivers it to the current subscribers of topic,
// skipping the session whose id equals exclude.
func (r *Router) Publish(_ context.Context, topic Topic, ev protocol.Outbound, exclude string) error {
	payload, err := protocol.Encode(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type(), err)
	}
	r.Deliver(topic, payload, exclude)
	return nil
}

// Deliver fans an already encoded payload out to a snapshot of subscribers and
// returns how many accepted it. Drops are logged and never reported upward.
func (r *Router) Deliver(topic Topic, payload []byte, exclude string) int {
	subs := r.snapshot(topic)

	delivered := 0
	for _, sub := range subs {
		if sub.SessionID() == exclude {
			continue
		}
		if sub.Deliver(payload) {
			delivered++
			continue
		}
		r.log.Debug("dropped event for subscriber",
			zap.String("topic", string(topic)),
			zap.String("session_id", sub.SessionID()),
		)
	}
	return delivered
}

func (r *Router) snapshot(topic Topic) []Subscriber {
	s := r.shardFor(topic)
	s.mu.RLock()
	defer s.mu.RUnlock()

	subs := s.topics[topic]
	out := make([]Subscriber, 0, len(subs))
	for _, sub := range subs {
		out = append(out, sub)
	}
	return out
}

// SubscriberCount reports the number of local subscribers on topic.
func (r *Router) SubscriberCount(topic Topic) int {
	s := r.shardFor(topic)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.topics[topic])
}

// TopicCount reports how many topics currently have subscribers.
func (r *Router) TopicCount() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.topics)
		s.mu.RUnlock()
	}
	return n
}
