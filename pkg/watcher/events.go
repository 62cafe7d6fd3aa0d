package watcher

// EventType defines the type of event being broadcast.
type EventType string

const (
	EventContractUpdated    EventType = "contract_updated"
	EventAccountUpdated     EventType = "account_updated"
	EventHistoryUpdated     EventType = "history_updated"
	EventReadFailed         EventType = "read_failed"
	EventConnectionChanged  EventType = "connection_changed"
	EventTransactionUpdated EventType = "transaction_updated"
)

// Event represents a synchronisation event. Token is the refresh token the
// data belongs to.
type Event struct {
	Type  EventType   `json:"type"`
	Token uint64      `json:"token"`
	Data  interface{} `json:"data,omitempty"`
}

// ReadError is the payload of EventReadFailed.
type ReadError struct {
	Source string `json:"source"`
	Kind   string `json:"kind"`
	Error  string `json:"error"`
}

// Subscriber is a channel that receives events.
type Subscriber chan Event
