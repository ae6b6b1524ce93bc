package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventCommissionCredited       EventType = "COMMISSION_CREDITED"
	EventCommissionPartialFailure EventType = "COMMISSION_PARTIAL_FAILURE"
	EventConversionCancelled      EventType = "CONVERSION_CANCELLED"
	EventWithdrawalRequested      EventType = "WITHDRAWAL_REQUESTED"
	EventWithdrawalCompleted      EventType = "WITHDRAWAL_COMPLETED"
	EventWithdrawalFailed         EventType = "WITHDRAWAL_FAILED"
	EventWalletDriftDetected      EventType = "WALLET_DRIFT_DETECTED"
	EventTierPromoted             EventType = "TIER_PROMOTED"
	EventError                    EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	// Set timestamp if not provided
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Notify specific subscribers
	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking
		}
	}

	// Notify all-event subscribers
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishCommissionCredited publishes a commission credited event
func (eb *EventBus) PublishCommissionCredited(depositID, leg, principalType string, principalID int64, amount string) {
	eb.Publish(Event{
		Type: EventCommissionCredited,
		Data: map[string]interface{}{
			"deposit_id":     depositID,
			"leg":            leg,
			"principal_type": principalType,
			"principal_id":   principalID,
			"amount":         amount,
		},
	})
}

// PublishCommissionPartialFailure publishes an alert for a deposit whose
// conversion rows exist but whose wallet credits did not all land
func (eb *EventBus) PublishCommissionPartialFailure(depositID string, failedLegs []string, err error) {
	data := map[string]interface{}{
		"deposit_id":  depositID,
		"failed_legs": failedLegs,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventCommissionPartialFailure,
		Data: data,
	})
}

// PublishConversionCancelled publishes a conversion cancelled event
func (eb *EventBus) PublishConversionCancelled(conversionID int64, depositID, reason string, clawback string) {
	eb.Publish(Event{
		Type: EventConversionCancelled,
		Data: map[string]interface{}{
			"conversion_id": conversionID,
			"deposit_id":    depositID,
			"reason":        reason,
			"clawback":      clawback,
		},
	})
}

// PublishWithdrawalRequested publishes a withdrawal requested event
func (eb *EventBus) PublishWithdrawalRequested(withdrawalID int64, displayID int, principalType string, principalID int64, amount string) {
	eb.Publish(Event{
		Type: EventWithdrawalRequested,
		Data: map[string]interface{}{
			"withdrawal_id":  withdrawalID,
			"display_id":     displayID,
			"principal_type": principalType,
			"principal_id":   principalID,
			"amount":         amount,
		},
	})
}

// PublishWithdrawalCompleted publishes a withdrawal completed event
func (eb *EventBus) PublishWithdrawalCompleted(withdrawalID int64, displayID int, endToEndID string) {
	eb.Publish(Event{
		Type: EventWithdrawalCompleted,
		Data: map[string]interface{}{
			"withdrawal_id": withdrawalID,
			"display_id":    displayID,
			"end_to_end_id": endToEndID,
		},
	})
}

// PublishWithdrawalFailed publishes a withdrawal failed event
func (eb *EventBus) PublishWithdrawalFailed(withdrawalID int64, displayID int, status, reason string) {
	eb.Publish(Event{
		Type: EventWithdrawalFailed,
		Data: map[string]interface{}{
			"withdrawal_id": withdrawalID,
			"display_id":    displayID,
			"status":        status,
			"reason":        reason,
		},
	})
}

// PublishWalletDriftDetected publishes a reconciliation drift alert
func (eb *EventBus) PublishWalletDriftDetected(principalType string, principalID int64, cached, expected, drift string) {
	eb.Publish(Event{
		Type: EventWalletDriftDetected,
		Data: map[string]interface{}{
			"principal_type": principalType,
			"principal_id":   principalID,
			"cached":         cached,
			"expected":       expected,
			"drift":          drift,
		},
	})
}

// PublishTierPromoted publishes a tier promotion event
func (eb *EventBus) PublishTierPromoted(promoted int64) {
	eb.Publish(Event{
		Type: EventTierPromoted,
		Data: map[string]interface{}{
			"promoted": promoted,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
