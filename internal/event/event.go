// Package event turns inference results into dispatchable detection events.
package event

import "time"

// SchemaVersion is the wire schema of DetectionEvent
const SchemaVersion = 1

// DetectionEvent is the unit of delivery: one event per chunk with at least
// one detection. EventID is assigned once and never regenerated.
type DetectionEvent struct {
	SchemaVersion int         `json:"schema_version" msgpack:"schema_version"`
	EventID       string      `json:"event_id" msgpack:"event_id"`
	NodeID        string      `json:"node_id" msgpack:"node_id"`
	TimestampUTC  time.Time   `json:"timestamp_utc" msgpack:"timestamp_utc"`
	LocalTime     string      `json:"local_time" msgpack:"local_time"`
	Sequence      uint64      `json:"sequence" msgpack:"sequence"`
	Detections    []Detection `json:"detections" msgpack:"detections"`
	Metadata      Metadata    `json:"metadata" msgpack:"metadata"`
}

// Detection is one species in an event
type Detection struct {
	Species        string  `json:"species" msgpack:"species"`
	ScientificName string  `json:"scientific_name" msgpack:"scientific_name"`
	Label          string  `json:"label" msgpack:"label"`
	Confidence     float64 `json:"confidence" msgpack:"confidence"`
	StartSeconds   float64 `json:"start_s" msgpack:"start_s"`
	EndSeconds     float64 `json:"end_s" msgpack:"end_s"`
}

// Location is the node position
type Location struct {
	Latitude  float64 `json:"lat" msgpack:"lat"`
	Longitude float64 `json:"lon" msgpack:"lon"`
}

// HostInfo describes the node hardware and OS
type HostInfo struct {
	Hostname        string `json:"hostname" msgpack:"hostname"`
	OS              string `json:"os" msgpack:"os"`
	Platform        string `json:"platform" msgpack:"platform"`
	PlatformVersion string `json:"platform_version" msgpack:"platform_version"`
	KernelArch      string `json:"kernel_arch" msgpack:"kernel_arch"`
}

// Metadata carries the capture context of an event
type Metadata struct {
	Location        Location  `json:"location" msgpack:"location"`
	Source          string    `json:"source" msgpack:"source"`
	SampleRate      int       `json:"sample_rate" msgpack:"sample_rate"`
	ChunkDurationMs int64     `json:"chunk_duration_ms" msgpack:"chunk_duration_ms"`
	ChunkSeq        uint64    `json:"chunk_seq" msgpack:"chunk_seq"`
	Partial         bool      `json:"partial" msgpack:"partial"`
	SunPhase        string    `json:"sun_phase,omitempty" msgpack:"sun_phase,omitempty"`
	Model           string    `json:"model,omitempty" msgpack:"model,omitempty"`
	Host            *HostInfo `json:"host,omitempty" msgpack:"host,omitempty"`
}

// Top returns the highest confidence detection
func (e *DetectionEvent) Top() (Detection, bool) {
	if len(e.Detections) == 0 {
		return Detection{}, false
	}
	return e.Detections[0], true
}
