// Package notify provides the node-local pub/sub broker used to fan out
// lifecycle notifications (event inserted, merge produced, block
// committed, peer dropped, ...) to whatever observers subscribe. It
// deliberately knows nothing about the DAG's own Event type.
package notify

import (
	"github.com/sirupsen/logrus"
	"sync"
)

// Topic labels what happened.
type Topic string

const (
	TopicEventInserted Topic = "event_inserted"
	TopicMergeCreated  Topic = "merge_created"
	TopicConsensus     Topic = "consensus"
	TopicPeerDropped   Topic = "peer_dropped"
	TopicPeerPenalized Topic = "peer_penalized"
	TopicGossipFailed  Topic = "gossip_failed"
)

// Notification carries a typed payload emitted after a state change.
type Notification struct {
	Topic       Topic          `json:"topic"`
	LedgerID    string         `json:"ledger_id"`
	BlockHeight int64          `json:"block_height,omitempty"`
	Data        map[string]any `json:"data"`
}

// Handler is a callback invoked for matching notifications.
type Handler func(Notification)

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	log      logrus.FieldLogger
	mu       sync.RWMutex
	handlers map[Topic][]Handler
}

// NewEmitter creates an Emitter with no subscribers. log may be nil, in
// which case logrus.StandardLogger() is used.
func NewEmitter(log logrus.FieldLogger) *Emitter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Emitter{log: log, handlers: make(map[Topic][]Handler)}
}

// Subscribe registers h to be called whenever topic is emitted.
func (e *Emitter) Subscribe(topic Topic, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[topic] = append(e.handlers[topic], h)
}

// Emit delivers n to all subscribers for n.Topic synchronously.
// Each handler is guarded by panic recovery so a misbehaving subscriber
// cannot crash the worker or halt the consensus cycle.
func (e *Emitter) Emit(n Notification) {
	e.mu.RLock()
	handlers := e.handlers[n.Topic]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.log.WithField("topic", n.Topic).Errorf("notify: handler panicked: %v", r)
				}
			}()
			h(n)
		}()
	}
}
