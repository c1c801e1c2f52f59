// Package model defines the wire types exchanged with the inference
// platform backend: trace spans, derived log entries, pipeline
// definitions, and the generic resource records.
package model

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// TraceSpan is a span exactly as the backend and the streaming channel
// deliver it. Fields mirror the OTel-derived JSON shape; attribute maps
// are open-ended.
type TraceSpan struct {
	SpanID       string `json:"span_id"`
	ParentSpanID string `json:"parent_span_id,omitempty"`
	TraceID      string `json:"trace_id"`

	// Timestamp is the span start time. The backend is inconsistent
	// about the encoding (epoch milliseconds or RFC3339), so it is
	// kept raw and parsed on demand.
	Timestamp FlexTime `json:"timestamp"`

	// Duration is elapsed nanoseconds. Absent means zero.
	Duration *int64 `json:"duration,omitempty"`

	SpanName      string `json:"span_name"`
	ServiceName   string `json:"service_name"`
	SpanKind      string `json:"span_kind,omitempty"`
	StatusCode    string `json:"status_code,omitempty"`
	StatusMessage string `json:"status_message,omitempty"`

	ResourceAttributes map[string]string `json:"resource_attributes,omitempty"`
	SpanAttributes     map[string]string `json:"span_attributes,omitempty"`

	// ChildSpanCount is a server-computed fan-out hint. Zero means
	// either "no children" or "not computed".
	ChildSpanCount int `json:"child_span_count,omitempty"`
}

// DurationNanos returns the raw duration, defaulting to zero when absent.
func (s *TraceSpan) DurationNanos() int64 {
	if s.Duration == nil {
		return 0
	}
	return *s.Duration
}

// DurationSeconds returns the duration scaled to seconds.
func (s *TraceSpan) DurationSeconds() float64 {
	return float64(s.DurationNanos()) / 1e9
}

// IsRoot reports whether the span declares no parent.
func (s *TraceSpan) IsRoot() bool {
	return s.ParentSpanID == ""
}

// FlexTime is a timestamp that accepts either a JSON number (epoch
// milliseconds) or a string (RFC3339 or a stringified number). Malformed
// values parse to NaN rather than failing the whole span.
type FlexTime struct {
	raw string
}

// NewFlexTime builds a FlexTime from epoch milliseconds.
func NewFlexTime(millis float64) FlexTime {
	return FlexTime{raw: strconv.FormatFloat(millis, 'f', -1, 64)}
}

// FlexTimeFromString builds a FlexTime from a raw backend value.
func FlexTimeFromString(raw string) FlexTime {
	return FlexTime{raw: raw}
}

// UnmarshalJSON accepts numbers, strings, and null.
func (t *FlexTime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		t.raw = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		t.raw = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		t.raw = n.String()
		return nil
	}
	// Unparseable input degrades to NaN at read time, never an error.
	t.raw = string(data)
	return nil
}

// MarshalJSON emits the timestamp as epoch milliseconds when parseable,
// otherwise the raw value it came in with.
func (t FlexTime) MarshalJSON() ([]byte, error) {
	ms := t.Millis()
	if math.IsNaN(ms) {
		return json.Marshal(t.raw)
	}
	return json.Marshal(ms)
}

// Millis returns the timestamp as epoch milliseconds, or NaN when the
// raw value cannot be interpreted.
func (t FlexTime) Millis() float64 {
	if t.raw == "" {
		return math.NaN()
	}
	if n, err := strconv.ParseFloat(t.raw, 64); err == nil {
		return n
	}
	if ts, err := time.Parse(time.RFC3339Nano, t.raw); err == nil {
		return float64(ts.UnixNano()) / 1e6
	}
	return math.NaN()
}

// String returns the raw backend value.
func (t FlexTime) String() string { return t.raw }

// LogEntry is the derived, consumer-facing tree node built from a
// TraceSpan. Children are exclusively owned by their parent entry.
type LogEntry struct {
	SpanID        string `json:"span_id"`
	ParentSpanID  string `json:"parent_span_id,omitempty"`
	TraceID       string `json:"trace_id"`
	SpanName      string `json:"span_name"`
	ServiceName   string `json:"service_name"`
	SpanKind      string `json:"span_kind,omitempty"`
	StatusCode    string `json:"status_code,omitempty"`
	StatusMessage string `json:"status_message,omitempty"`

	ResourceAttributes map[string]string `json:"resource_attributes,omitempty"`
	SpanAttributes     map[string]string `json:"span_attributes,omitempty"`

	// Duration is seconds, always (raw ns or 0) / 1e9.
	Duration float64 `json:"duration"`

	// StartOffsetSec is seconds relative to the earliest span of the
	// working set. NaN when the span's timestamp was malformed.
	StartOffsetSec float64 `json:"startOffsetSec"`

	Children []*LogEntry `json:"children,omitempty"`

	// CanExpand is true when the server fan-out hint or realized
	// children indicate descendants exist.
	CanExpand bool `json:"canExpand"`

	// PartialTrace marks a span promoted to root because its declared
	// parent fell outside the fetched window.
	PartialTrace bool `json:"partialTrace,omitempty"`

	HasException bool   `json:"hasException,omitempty"`
	ErrorType    string `json:"errorType,omitempty"`
}

// MarshalJSON emits null for a NaN start offset so malformed timestamps
// never break encoding of the whole tree. encoding/json rejects NaN.
func (e *LogEntry) MarshalJSON() ([]byte, error) {
	type alias LogEntry
	aux := struct {
		*alias
		StartOffsetSec any `json:"startOffsetSec"`
	}{alias: (*alias)(e)}
	if !math.IsNaN(e.StartOffsetSec) {
		aux.StartOffsetSec = e.StartOffsetSec
	}
	return json.Marshal(aux)
}

// exception.type is the conventional OTel attribute recorded by
// exception events flattened into span attributes.
const attrExceptionType = "exception.type"

// NewLogEntry derives a childless LogEntry from a span, computing the
// offset against the given earliest timestamp (epoch ms).
func NewLogEntry(s *TraceSpan, earliestMs float64) *LogEntry {
	e := &LogEntry{
		SpanID:             s.SpanID,
		ParentSpanID:       s.ParentSpanID,
		TraceID:            s.TraceID,
		SpanName:           s.SpanName,
		ServiceName:        s.ServiceName,
		SpanKind:           s.SpanKind,
		StatusCode:         s.StatusCode,
		StatusMessage:      s.StatusMessage,
		ResourceAttributes: s.ResourceAttributes,
		SpanAttributes:     s.SpanAttributes,
		Duration:           s.DurationSeconds(),
		StartOffsetSec:     (s.Timestamp.Millis() - earliestMs) / 1000,
		CanExpand:          s.ChildSpanCount > 0,
	}

	if errType, ok := s.SpanAttributes[attrExceptionType]; ok && errType != "" {
		e.HasException = true
		e.ErrorType = errType
	} else if s.StatusCode == "ERROR" || s.StatusCode == "STATUS_CODE_ERROR" {
		e.HasException = true
		e.ErrorType = s.StatusMessage
	}

	return e
}

// EarliestMillis returns the smallest parseable timestamp in the batch,
// in epoch milliseconds. Returns NaN for an empty or fully malformed batch.
func EarliestMillis(spans []TraceSpan) float64 {
	earliest := math.NaN()
	for i := range spans {
		ms := spans[i].Timestamp.Millis()
		if math.IsNaN(ms) {
			continue
		}
		if math.IsNaN(earliest) || ms < earliest {
			earliest = ms
		}
	}
	return earliest
}
