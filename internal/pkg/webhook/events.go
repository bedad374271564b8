package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// EventType is the closed set of gateway event types the ingestor dispatches
// on. Unknown types are acknowledged without effect, since providers add
// event types over time.
type EventType int

const (
	EventUnknown EventType = iota
	EventPaymentCompleted
	EventPaymentFailed
	EventSubscriptionRenewed
	EventSubscriptionCanceled
)

// ParseEventType maps the provider's type string onto the closed enum.
func ParseEventType(s string) EventType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "payment.completed":
		return EventPaymentCompleted
	case "payment.failed":
		return EventPaymentFailed
	case "subscription.renewed":
		return EventSubscriptionRenewed
	case "subscription.canceled":
		return EventSubscriptionCanceled
	default:
		return EventUnknown
	}
}

func (t EventType) String() string {
	switch t {
	case EventPaymentCompleted:
		return "payment.completed"
	case EventPaymentFailed:
		return "payment.failed"
	case EventSubscriptionRenewed:
		return "subscription.renewed"
	case EventSubscriptionCanceled:
		return "subscription.canceled"
	default:
		return "unknown"
	}
}

// EventData is the payload of a gateway event.
type EventData struct {
	UserID            uint       `json:"user_id"`
	SubscriptionID    string     `json:"subscription_id"`
	PlanID            string     `json:"plan_id"`
	Amount            string     `json:"amount"`
	Currency          string     `json:"currency"`
	PeriodStart       *time.Time `json:"period_start"`
	PeriodEnd         *time.Time `json:"period_end"`
	OrderRef          string     `json:"order_ref"`
	Reason            string     `json:"reason"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
}

// Event is a parsed gateway webhook event.
type Event struct {
	ID      string    `json:"id"`
	RawType string    `json:"type"`
	Type    EventType `json:"-"`
	Data    EventData `json:"data"`
}

// ErrMalformedEvent marks payloads that are not valid event JSON.
var ErrMalformedEvent = errors.New("malformed webhook event payload")

// ParseEvent decodes a raw webhook body. When the provider sent no event id,
// a payload hash stands in so redeliveries of the identical body still
// deduplicate.
func ParseEvent(raw []byte) (*Event, error) {
	var evt struct {
		ID   string    `json:"id"`
		Type string    `json:"type"`
		Data EventData `json:"data"`
	}
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, ErrMalformedEvent
	}
	if strings.TrimSpace(evt.Type) == "" {
		return nil, ErrMalformedEvent
	}

	id := strings.TrimSpace(evt.ID)
	if id == "" {
		sum := sha256.Sum256(raw)
		id = "hash:" + hex.EncodeToString(sum[:])
	}

	return &Event{
		ID:      id,
		RawType: evt.Type,
		Type:    ParseEventType(evt.Type),
		Data:    evt.Data,
	}, nil
}
