package audit

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/glimte/retryq/envelope"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Dead-letter reasons set by the broker in x-death
const (
	ReasonRejected = "rejected"
	ReasonMaxLen   = "maxlen"
	ReasonExpired  = "expired"
)

const (
	headerDeath            = "x-death"
	headerFirstDeathQueue  = "x-first-death-queue"
	headerFirstDeathReason = "x-first-death-reason"
)

// Record describes one drained dead letter
type Record struct {
	ID             string                     `json:"id"`
	MessageID      string                     `json:"messageId,omitempty"`
	Queue          string                     `json:"queue"`
	OriginalQueue  string                     `json:"originalQueue,omitempty"`
	Reason         string                     `json:"reason,omitempty"`
	DeathCount     int                        `json:"deathCount"`
	Message        string                     `json:"message,omitempty"`
	Fields         map[string]json.RawMessage `json:"fields,omitempty"`
	Retries        int                        `json:"retries"`
	Attempts       int                        `json:"attempts"`
	Malformed      bool                       `json:"malformed"`
	MalformedCause string                     `json:"malformedCause,omitempty"`
	Body           string                     `json:"body,omitempty"`
	DeadLetteredAt time.Time                  `json:"deadLetteredAt"`
	DrainedAt      time.Time                  `json:"drainedAt"`
}

// NewRecord builds the record of a delivery drained from queue at drainedAt
func NewRecord(d amqp.Delivery, queue string, drainedAt time.Time) Record {
	rec := Record{
		ID:        uuid.NewString(),
		MessageID: d.MessageId,
		Queue:     queue,
		DrainedAt: drainedAt,
	}

	applyDeathHeaders(&rec, d.Headers)

	item, retries, err := envelope.Decode(d.Body)
	if err != nil {
		rec.Malformed = true
		rec.Body = string(d.Body)
		rec.Attempts = 1
		var merr *envelope.MalformedError
		if errors.As(err, &merr) {
			rec.MalformedCause = merr.Reason
		}
		return rec
	}

	rec.Message = item.Message
	rec.Fields = item.Fields
	rec.Retries = retries
	rec.Attempts = attempts(rec.Reason, retries)
	return rec
}

// attempts is how many times the item was processed before it was
// dead-lettered. A rejected item failed on the attempt carrying its
// counter; an overflowed or expired one was never processed at that count.
func attempts(reason string, retries int) int {
	switch reason {
	case ReasonMaxLen, ReasonExpired:
		return retries
	default:
		return retries + 1
	}
}

// applyDeathHeaders reads the broker's dead-letter bookkeeping.
// x-death entries are ordered most recent first.
func applyDeathHeaders(rec *Record, headers amqp.Table) {
	rec.OriginalQueue = headerString(headers, headerFirstDeathQueue)
	rec.Reason = headerString(headers, headerFirstDeathReason)

	deaths, ok := headers[headerDeath].([]interface{})
	if !ok {
		return
	}

	for i, entry := range deaths {
		death, ok := entry.(amqp.Table)
		if !ok {
			continue
		}
		rec.DeathCount += headerInt(death, "count")

		if i != 0 {
			continue
		}
		if rec.OriginalQueue == "" {
			rec.OriginalQueue = headerString(death, "queue")
		}
		if rec.Reason == "" {
			rec.Reason = headerString(death, "reason")
		}
		rec.DeadLetteredAt = headerTime(death, "time")
	}
}

func headerString(headers amqp.Table, key string) string {
	if val, ok := headers[key].(string); ok {
		return val
	}
	return ""
}

func headerInt(headers amqp.Table, key string) int {
	switch val := headers[key].(type) {
	case int:
		return val
	case int32:
		return int(val)
	case int64:
		return int(val)
	case float64:
		return int(val)
	}
	return 0
}

func headerTime(headers amqp.Table, key string) time.Time {
	switch val := headers[key].(type) {
	case time.Time:
		return val
	case int64:
		return time.Unix(val, 0)
	}
	return time.Time{}
}

// variables exposes the record to filter expressions
func (r Record) variables() map[string]any {
	fields := make(map[string]any, len(r.Fields))
	for k, raw := range r.Fields {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			fields[k] = v
		}
	}

	return map[string]any{
		"id":             r.ID,
		"reason":         r.Reason,
		"queue":          r.Queue,
		"original_queue": r.OriginalQueue,
		"message":        r.Message,
		"fields":         fields,
		"retries":        int64(r.Retries),
		"attempts":       int64(r.Attempts),
		"malformed":      r.Malformed,
		"death_count":    int64(r.DeathCount),
		"drained_at_ms":  r.DrainedAt.UnixMilli(),
	}
}
