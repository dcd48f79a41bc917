package messaging

import (
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DeliveryHandle resolves a delivery at most once. Every attempt after the
// first returns ErrDoubleResolution without touching the broker.
type DeliveryHandle struct {
	delivery amqp.Delivery

	mu         sync.Mutex
	resolved   bool
	resolution string
}

// NewDeliveryHandle wraps d
func NewDeliveryHandle(d amqp.Delivery) *DeliveryHandle {
	return &DeliveryHandle{delivery: d}
}

// Ack acknowledges the delivery
func (h *DeliveryHandle) Ack() error {
	return h.resolve("ack", func() error {
		return h.delivery.Ack(false)
	})
}

// Reject rejects the delivery without requeue, routing it to the dead-letter exchange
func (h *DeliveryHandle) Reject() error {
	return h.resolve("reject", func() error {
		return h.delivery.Reject(false)
	})
}

// Requeue returns the delivery to its queue unchanged
func (h *DeliveryHandle) Requeue() error {
	return h.resolve("requeue", func() error {
		return h.delivery.Nack(false, true)
	})
}

// Resolved reports whether the handle was resolved, and how
func (h *DeliveryHandle) Resolved() (bool, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resolved, h.resolution
}

// DeliveryTag returns the tag of the wrapped delivery
func (h *DeliveryHandle) DeliveryTag() uint64 {
	return h.delivery.DeliveryTag
}

// resolve marks the handle before calling the broker: a failed ack leaves
// the delivery in an unknown state that must not be resolved again.
func (h *DeliveryHandle) resolve(op string, fn func() error) error {
	h.mu.Lock()
	if h.resolved {
		prev := h.resolution
		h.mu.Unlock()
		return fmt.Errorf("%w: delivery %d already %s, refusing %s",
			ErrDoubleResolution, h.delivery.DeliveryTag, prev, op)
	}
	h.resolved = true
	h.resolution = op
	h.mu.Unlock()

	return fn()
}
