// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

const (
	maxRecentLogs   = 1000
	maxLineBytes    = 16 * 1024
	maxPartialBytes = 64 * 1024
)

// Entry is one parsed log line kept for the log endpoint.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// BufferMetrics reports lines the ring buffer refused to keep.
type BufferMetrics struct {
	DroppedPartialOverflow uint64
	DroppedOversizedLine   uint64
	DroppedInvalidJSON     uint64
}

var (
	recentMu   sync.RWMutex
	recentLogs = make([]Entry, 0, maxRecentLogs)
	recentHead int

	droppedPartial   atomic.Uint64
	droppedOversized atomic.Uint64
	droppedInvalid   atomic.Uint64

	recent = &structuredBufferWriter{}
)

// structuredBufferWriter frames zerolog output into lines and retains the most
// recent entries. Writes may split lines arbitrarily.
type structuredBufferWriter struct {
	mu      sync.Mutex
	partial bytes.Buffer
}

func (w *structuredBufferWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(p)
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		if idx < 0 {
			if w.partial.Len()+len(p) > maxPartialBytes {
				w.partial.Reset()
				droppedPartial.Add(1)
				return n, nil
			}
			w.partial.Write(p)
			return n, nil
		}
		w.partial.Write(p[:idx])
		p = p[idx+1:]
		line := w.partial.Bytes()
		if len(line) > maxLineBytes {
			droppedOversized.Add(1)
		} else if len(line) > 0 {
			appendLine(line)
		}
		w.partial.Reset()
	}
	return n, nil
}

func appendLine(line []byte) {
	fields := map[string]any{}
	if err := json.Unmarshal(line, &fields); err != nil {
		droppedInvalid.Add(1)
		return
	}
	e := Entry{Fields: fields}
	if v, ok := fields["level"].(string); ok {
		e.Level = v
		delete(fields, "level")
	}
	if v, ok := fields["message"].(string); ok {
		e.Message = v
		delete(fields, "message")
	}
	if v, ok := fields["time"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			e.Time = ts
		}
		delete(fields, "time")
	}

	recentMu.Lock()
	defer recentMu.Unlock()
	if len(recentLogs) < maxRecentLogs {
		recentLogs = append(recentLogs, e)
		return
	}
	recentLogs[recentHead] = e
	recentHead = (recentHead + 1) % maxRecentLogs
}

// GetRecentLogs returns retained entries, oldest first.
func GetRecentLogs() []Entry {
	recentMu.RLock()
	defer recentMu.RUnlock()
	out := make([]Entry, 0, len(recentLogs))
	out = append(out, recentLogs[recentHead:]...)
	out = append(out, recentLogs[:recentHead]...)
	return out
}

// ClearRecentLogs drops every retained entry.
func ClearRecentLogs() {
	recentMu.Lock()
	recentLogs = recentLogs[:0]
	recentHead = 0
	recentMu.Unlock()
}

// GetBufferMetrics returns drop counters for the ring buffer.
func GetBufferMetrics() BufferMetrics {
	return BufferMetrics{
		DroppedPartialOverflow: droppedPartial.Load(),
		DroppedOversizedLine:   droppedOversized.Load(),
		DroppedInvalidJSON:     droppedInvalid.Load(),
	}
}
