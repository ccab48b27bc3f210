package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Gopher0727/TeamLoom/internal/protocol"
)

// holdLimit bounds how long a locally delivered fallback waits for earlier
// redis publishes from this node to come back.
const holdLimit = time.Second

type envelope struct {
	Topic   Topic           `json:"topic"`
	Exclude string          `json:"exclude,omitempty"`
	Payload json.RawMessage `json:"payload"`
	Origin  string          `json:"origin,omitempty"`
	Seq     uint64          `json:"seq,omitempty"`
}

// heldEnvelope is a fallback that must not overtake seq barrier.
type heldEnvelope struct {
	barrier uint64
	env     envelope
	since   time.Time
}

// Relay publishes events through a redis channel so every node's Router
// receives them. With a nil client it degrades to local delivery.
//
// When a redis publish fails the event is delivered locally, but only after
// every earlier publish from this node that is still on its way through
// redis has been delivered, so a publisher never sees its events reordered.
type Relay struct {
	router  *Router
	rdb     *redis.Client
	channel string
	origin  string
	log     *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	nextSeq uint64
	pending map[uint64]struct{}
	held    []heldEnvelope

	ready     chan struct{}
	readyOnce sync.Once
}

func NewRelay(router *Router, rdb *redis.Client, channel string, log *zap.Logger) *Relay {
	return &Relay{
		router:  router,
		rdb:     rdb,
		channel: channel,
		origin:  uuid.NewString(),
		log:     log,
		now:     time.Now,
		pending: make(map[uint64]struct{}),
		ready:   make(chan struct{}),
	}
}

// Ready is closed once the relay is subscribed (immediately without redis).
func (r *Relay) Ready() <-chan struct{} {
	if r.rdb == nil {
		r.readyOnce.Do(func() { close(r.ready) })
	}
	return r.ready
}

func (r *Relay) Publish(ctx context.Context, topic Topic, ev protocol.Outbound, exclude string) error {
	payload, err := protocol.Encode(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type(), err)
	}
	if r.rdb == nil {
		r.router.Deliver(topic, payload, exclude)
		return nil
	}

	env := envelope{Topic: topic, Exclude: exclude, Payload: payload, Origin: r.origin}
	env.Seq = r.begin()
	data, err := json.Marshal(env)
	if err != nil {
		r.mu.Lock()
		delete(r.pending, env.Seq)
		r.flushLocked(false)
		r.mu.Unlock()
		return fmt.Errorf("encode relay envelope: %w", err)
	}
	if err := r.rdb.Publish(ctx, r.channel, data).Err(); err != nil {
		r.log.Warn("relay publish failed, delivering locally",
			zap.String("topic", string(topic)),
			zap.Error(err),
		)
		r.failed(env)
	}
	return nil
}

// begin reserves the next sequence number and marks it in flight.
func (r *Relay) begin() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSeq++
	r.pending[r.nextSeq] = struct{}{}
	return r.nextSeq
}

// failed delivers env locally once nothing published before it is in flight.
func (r *Relay) failed(env envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, env.Seq)

	var barrier uint64
	for seq := range r.pending {
		if seq < env.Seq && seq > barrier {
			barrier = seq
		}
	}
	if n := len(r.held); n > 0 && r.held[n-1].barrier > barrier {
		barrier = r.held[n-1].barrier
	}
	r.held = append(r.held, heldEnvelope{barrier: barrier, env: env, since: r.now()})
	r.flushLocked(false)
}

// received delivers an envelope read from the channel.
func (r *Relay) received(env envelope) {
	if env.Origin != r.origin {
		r.router.Deliver(env.Topic, env.Payload, env.Exclude)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.router.Deliver(env.Topic, env.Payload, env.Exclude)
	delete(r.pending, env.Seq)
	r.flushLocked(false)
}

// expire releases fallbacks that waited longer than holdLimit.
func (r *Relay) expire() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked(false)
}

// flushLocked delivers held envelopes in order while their barrier has
// cleared. A head older than holdLimit, or force, abandons the barrier.
func (r *Relay) flushLocked(force bool) {
	for len(r.held) > 0 {
		h := r.held[0]
		if !force && r.blocked(h.barrier) && r.now().Sub(h.since) < holdLimit {
			return
		}
		for seq := range r.pending {
			if seq <= h.barrier {
				delete(r.pending, seq)
			}
		}
		r.router.Deliver(h.env.Topic, h.env.Payload, h.env.Exclude)
		r.held = r.held[1:]
	}
}

func (r *Relay) blocked(barrier uint64) bool {
	for seq := range r.pending {
		if seq <= barrier {
			return true
		}
	}
	return false
}

// Run forwards relayed events to the local router until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	if r.rdb == nil {
		r.Ready()
		<-ctx.Done()
		return nil
	}

	pubsub := r.rdb.Subscribe(ctx, r.channel)
	defer pubsub.Close()
	defer func() {
		r.mu.Lock()
		r.flushLocked(true)
		r.mu.Unlock()
	}()

	ticker := time.NewTicker(holdLimit / 4)
	defer ticker.Stop()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.readyOnce.Do(func() { close(r.ready) })
	r.log.Info("fan-out relay subscribed", zap.String("channel", r.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.expire()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.log.Warn("dropping malformed relay envelope", zap.Error(err))
				continue
			}
			if _, err := ParseTopic(string(env.Topic)); err != nil {
				r.log.Warn("dropping relay envelope", zap.Error(err))
				continue
			}
			r.received(env)
		}
	}
}
