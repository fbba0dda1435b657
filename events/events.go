// Package events carries change notifications between active sessions.
// Payloads are ids only; consumers re-fetch so stale copies never travel
// through the channel. Delivery is fire-and-forget best-effort.
package events

type Event interface {
	Kind() string
}

const (
	KindEntityLocked          = "entity_locked"
	KindEntityUnlocked        = "entity_unlocked"
	KindPurchaseStatusChanged = "purchase_status_changed"
)

type EntityLocked struct {
	EntityType  string `json:"entity_type"`
	EntityId    int    `json:"entity_id"`
	HolderLabel string `json:"holder_label"`
}

func (EntityLocked) Kind() string { return KindEntityLocked }

type EntityUnlocked struct {
	EntityType string `json:"entity_type"`
	EntityId   int    `json:"entity_id"`
}

func (EntityUnlocked) Kind() string { return KindEntityUnlocked }

type PurchaseStatusChanged struct {
	PurchaseId int `json:"purchase_id"`
}

func (PurchaseStatusChanged) Kind() string { return KindPurchaseStatusChanged }

// Handler receives events already decoded. Handlers must not block.
type Handler func(Event)

type Notifier interface {
	// Publish never returns an error; transport failures are logged and
	// swallowed so business operations never fail on notification.
	Publish(event Event)
	// Subscribe registers a handler and returns an unsubscribe func.
	Subscribe(handler Handler) (unsubscribe func())
}
