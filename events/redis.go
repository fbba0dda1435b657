package events

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const DefaultChannel = "storefront_events"

type envelope struct {
	NodeId  string          `json:"node_id"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// RedisNotifier fans events out to every running instance over a Redis
// pub/sub channel. Local handlers are invoked synchronously on Publish;
// the subscriber goroutine delivers events published by other nodes and
// skips this node's own messages to avoid double delivery.
type RedisNotifier struct {
	local   *LocalNotifier
	rdb     *redis.Client
	channel string
	nodeId  string
	logger  *logrus.Logger
	sub     *redis.PubSub
}

func NewRedisNotifier(rdb *redis.Client, channel string, logger *logrus.Logger) *RedisNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisNotifier{
		local:   NewLocalNotifier(),
		rdb:     rdb,
		channel: channel,
		nodeId:  uuid.NewString(),
		logger:  logger,
	}
}

func (n *RedisNotifier) Publish(event Event) {
	n.local.Publish(event)

	payload, err := json.Marshal(event)
	if err != nil {
		n.logger.WithFields(logrus.Fields{"kind": event.Kind()}).
			Errorf("failed to encode event: %v", err)
		return
	}
	message, err := json.Marshal(envelope{NodeId: n.nodeId, Kind: event.Kind(), Payload: payload})
	if err != nil {
		n.logger.WithFields(logrus.Fields{"kind": event.Kind()}).
			Errorf("failed to encode event envelope: %v", err)
		return
	}
	if err := n.rdb.Publish(context.Background(), n.channel, message).Err(); err != nil {
		// best effort: local sessions were already notified
		n.logger.WithFields(logrus.Fields{"kind": event.Kind()}).
			Warnf("redis publish failed; event delivered locally only: %v", err)
	}
}

func (n *RedisNotifier) Subscribe(handler Handler) func() {
	return n.local.Subscribe(handler)
}

// Start launches the subscriber goroutine. Call once after Redis is ready.
func (n *RedisNotifier) Start() {
	n.sub = n.rdb.Subscribe(context.Background(), n.channel)

	go func() {
		for msg := range n.sub.Channel() {
			n.dispatch([]byte(msg.Payload))
		}
	}()
}

// Stop closes the subscription, which closes the message channel and lets
// the subscriber goroutine exit.
func (n *RedisNotifier) Stop() {
	if n.sub != nil {
		_ = n.sub.Close()
	}
}

func (n *RedisNotifier) dispatch(message []byte) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		n.logger.Errorf("failed to decode event envelope: %v", err)
		return
	}
	if env.NodeId == n.nodeId {
		return
	}

	event, err := decodeEvent(env.Kind, env.Payload)
	if err != nil {
		n.logger.WithFields(logrus.Fields{"kind": env.Kind}).
			Errorf("failed to decode event: %v", err)
		return
	}
	n.local.Publish(event)
}

func decodeEvent(kind string, payload json.RawMessage) (Event, error) {
	switch kind {
	case KindEntityLocked:
		var e EntityLocked
		err := json.Unmarshal(payload, &e)
		return e, err
	case KindEntityUnlocked:
		var e EntityUnlocked
		err := json.Unmarshal(payload, &e)
		return e, err
	case KindPurchaseStatusChanged:
		var e PurchaseStatusChanged
		err := json.Unmarshal(payload, &e)
		return e, err
	default:
		return nil, errUnknownKind(kind)
	}
}

type errUnknownKind string

func (e errUnknownKind) Error() string { return "unknown event kind: " + string(e) }
