package domain

import "time"

// Sample is a single telemetry reading stamped by the server.
type Sample struct {
	WorkerID  string    `json:"worker_id"`
	Timestamp time.Time `json:"timestamp"`

	Memory float64 `json:"memory"`
	CPU    float64 `json:"cpu"`
	Rate   float64 `json:"rate"`

	// Operational fields are opaque to the protocol.
	EngineStatus string `json:"engine_status,omitempty"`
	PowerProfile string `json:"power_profile,omitempty"`
	BatchSize    *int   `json:"batch_size,omitempty"`
	ThreadCount  *int   `json:"thread_count,omitempty"`
}
