package events

// TriggerMessage is pushed to every listener after a fire attempt.
type TriggerMessage struct {
	Type string      `json:"type"` // "trigger"
	Data TriggerData `json:"data"`
}

// TriggerData describes one fire attempt.
type TriggerData struct {
	ScheduleID string `json:"schedule_id,omitempty"`
	DeviceID   string `json:"device_id"`
	SourceURI  string `json:"source_uri"`
	Action     string `json:"action"`
	Origin     string `json:"origin"`
	Status     string `json:"status"` // "succeeded", "failed" or "rejected"
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
	At         string `json:"at"`
	DurationMS int64  `json:"duration_ms"`
}

// PingMessage is a keepalive sent to listeners.
type PingMessage struct {
	Type string `json:"type"` // "ping"
}

// IncomingMessage is used to read the type of a listener message.
type IncomingMessage struct {
	Type string `json:"type"`
}

// HubStatus reports hub state.
type HubStatus struct {
	Listeners int    `json:"listeners"`
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
}
