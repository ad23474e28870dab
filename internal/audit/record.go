package audit

import (
	"context"
	"encoding/json"
	"time"
)

// Direction says whether a message was sent or received.
type Direction string

// Message directions.
const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionOutgoing || d == DirectionIncoming
}

// Record is one message sent to or received from the broker.
type Record struct {
	ID        string    `json:"id"`
	Direction Direction `json:"direction"`
	Topic     string    `json:"topic"`
	Payload   any       `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// ParsePayload decodes a message payload as JSON. Text that is not JSON is
// kept as {"raw": text}.
func ParsePayload(payload []byte) any {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return map[string]any{"raw": string(payload)}
	}
	return v
}

// Filter controls which records List returns.
type Filter struct {
	Direction Direction // optional
	Topic     string    // optional, exact match
	Limit     int       // default 50, max 200
	Offset    int
}

// ListResult is one page of records, newest first.
type ListResult struct {
	Records []Record `json:"records"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

// Sink persists records.
type Sink interface {
	Create(ctx context.Context, rec *Record) error
}

// Repository is a Sink that can also be queried.
type Repository interface {
	Sink
	List(ctx context.Context, filter Filter) (*ListResult, error)
}
