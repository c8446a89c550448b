package runner

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/ormasoftchile/patui/pkg/types"
)

// TraceWriter appends run events to a JSONL trace file, one document per
// event, flushed at run boundaries so a crashed run still leaves a usable
// log.
type TraceWriter struct {
	runID  string
	file   *os.File
	writer *bufio.Writer
	enc    *json.Encoder
}

// traceEvent is the JSONL envelope around one run event.
type traceEvent struct {
	Type      string    `json:"type"` // run_event
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Step      string    `json:"step"`
	Message   string    `json:"message,omitempty"`
	Data      []byte    `json:"data,omitempty"`
}

// NewTraceWriter creates a trace writer appending to the given file; each
// writer stamps its events with a fresh run id.
func NewTraceWriter(path string) (*TraceWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	w := bufio.NewWriter(f)
	return &TraceWriter{
		runID:  uuid.NewString(),
		file:   f,
		writer: w,
		enc:    json.NewEncoder(w),
	}, nil
}

// RunID identifies the run all written events belong to.
func (tw *TraceWriter) RunID() string { return tw.runID }

// Write appends one event.
func (tw *TraceWriter) Write(e types.Event) error {
	env := traceEvent{
		Type:      "run_event",
		RunID:     tw.runID,
		Timestamp: e.Timestamp,
		Kind:      e.Kind.String(),
		Step:      e.Step,
		Message:   e.Message,
		Data:      e.Data,
	}
	if err := tw.enc.Encode(env); err != nil {
		return fmt.Errorf("encode trace event: %w", err)
	}
	return nil
}

// WriteAll appends a run's whole event log and flushes.
func (tw *TraceWriter) WriteAll(events []types.Event) error {
	for _, e := range events {
		if err := tw.Write(e); err != nil {
			return err
		}
	}
	if err := tw.writer.Flush(); err != nil {
		return fmt.Errorf("flush trace: %w", err)
	}
	return tw.file.Sync()
}

// Close flushes and closes the trace file.
func (tw *TraceWriter) Close() error {
	if err := tw.writer.Flush(); err != nil {
		return err
	}
	return tw.file.Close()
}
