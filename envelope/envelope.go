package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	// MessageKey is the wire key of the business message.
	MessageKey = "message"
	// RetriesKey is the reserved wire key of the retry counter.
	RetriesKey = "retries"
)

// ContentType is the MIME type of encoded envelopes.
const ContentType = "application/json"

// WorkItem is the payload carried through the pipeline
type WorkItem struct {
	Message string
	// Fields holds any other top-level keys. Encode compacts the values and
	// drops an empty map, so a decoded item compares equal to its source
	// once normalized.
	Fields map[string]json.RawMessage
}

// NewWorkItem creates a work item with only a message
func NewWorkItem(message string) WorkItem {
	return WorkItem{Message: message}
}

// WithField returns a copy of the item with key set to the JSON encoding of value
func (w WorkItem) WithField(key string, value interface{}) (WorkItem, error) {
	if isReserved(key) {
		return w, fmt.Errorf("envelope: field %q is reserved", key)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return w, fmt.Errorf("envelope: failed to encode field %q: %w", key, err)
	}

	fields := make(map[string]json.RawMessage, len(w.Fields)+1)
	for k, v := range w.Fields {
		fields[k] = v
	}
	fields[key] = raw
	w.Fields = fields
	return w, nil
}

// Encode serializes a work item together with its retry counter
func Encode(item WorkItem, retryCount int) ([]byte, error) {
	if retryCount < 0 {
		return nil, fmt.Errorf("envelope: negative retry count %d", retryCount)
	}

	doc := make(map[string]json.RawMessage, len(item.Fields)+2)
	for key, value := range item.Fields {
		if isReserved(key) {
			return nil, fmt.Errorf("envelope: field %q is reserved", key)
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, value); err != nil {
			return nil, fmt.Errorf("envelope: field %q is not valid JSON: %w", key, err)
		}
		doc[key] = compact.Bytes()
	}

	msg, err := json.Marshal(item.Message)
	if err != nil {
		return nil, fmt.Errorf("envelope: failed to encode message: %w", err)
	}
	doc[MessageKey] = msg
	doc[RetriesKey] = json.RawMessage(strconv.Itoa(retryCount))

	return json.Marshal(doc)
}

// Decode parses an envelope. A missing retry counter decodes as 0.
func Decode(body []byte) (WorkItem, int, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return WorkItem{}, 0, &MalformedError{Reason: "payload is not a JSON object", Err: err}
	}
	if doc == nil {
		return WorkItem{}, 0, &MalformedError{Reason: "payload is null"}
	}

	rawMsg, ok := doc[MessageKey]
	if !ok {
		return WorkItem{}, 0, &MalformedError{Reason: "missing " + MessageKey}
	}
	if string(rawMsg) == "null" {
		return WorkItem{}, 0, &MalformedError{Reason: MessageKey + " is not a string"}
	}
	var item WorkItem
	if err := json.Unmarshal(rawMsg, &item.Message); err != nil {
		return WorkItem{}, 0, &MalformedError{Reason: MessageKey + " is not a string", Err: err}
	}

	retries, err := decodeRetries(doc)
	if err != nil {
		return WorkItem{}, 0, err
	}

	for key, value := range doc {
		if isReserved(key) {
			continue
		}
		if item.Fields == nil {
			item.Fields = make(map[string]json.RawMessage, len(doc)-2)
		}
		item.Fields[key] = value
	}

	return item, retries, nil
}

func decodeRetries(doc map[string]json.RawMessage) (int, error) {
	raw, ok := doc[RetriesKey]
	if !ok || string(raw) == "null" {
		return 0, nil
	}

	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, &MalformedError{Reason: RetriesKey + " is not an integer", Err: err}
	}
	if n < 0 {
		return 0, &MalformedError{Reason: fmt.Sprintf("%s is negative (%d)", RetriesKey, n)}
	}
	if n > maxRetryCount {
		return 0, &MalformedError{Reason: fmt.Sprintf("%s out of range (%d)", RetriesKey, n)}
	}
	return int(n), nil
}

const maxRetryCount = 1<<31 - 1

func isReserved(key string) bool {
	return key == MessageKey || key == RetriesKey
}
