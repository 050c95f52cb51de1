package automation

// StatusAPIVersion is the api version stamped on status envelopes.
const StatusAPIVersion = "1"

// Status is the code/reason pair reported to the backend.
type Status struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

// StatusEnvelope reports the outcome of one command or event invocation.
type StatusEnvelope struct {
	APIVersion    string        `json:"api_version"`
	CorrelationID string        `json:"correlation_id"`
	Team          Team          `json:"team"`
	Command       string        `json:"command,omitempty"`
	Event         string        `json:"event,omitempty"`
	Destinations  []Destination `json:"destinations,omitempty"`
	Source        *Source       `json:"source,omitempty"`
	Status        Status        `json:"status"`
}
