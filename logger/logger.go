/*
 * UpdateHub
 * Copyright (C) 2017
 * O.S. Systems Sofware LTDA: contato@ossystems.com.br
 *
 * SPDX-License-Identifier:     GPL-2.0
 */

// Package logger wires a process-global ring buffer into the agent's
// structured logger so the local /log endpoint and error reports can
// replay recent entries (spec.md §4.1's "current_log" field). It
// hooks a logrus.Hook rather than re-deriving a logging pipeline,
// matching the teacher's use of github.com/OSSystems/pkg/log, which
// itself wraps logrus.
package logger

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Entry is one captured log line, shaped to match spec.md §6's
// `GET /log` response: `[{level, message, time, data}...]`.
type Entry struct {
	Level   string                 `json:"level"`
	Message string                 `json:"message"`
	Time    time.Time              `json:"time"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// Buffer is a bounded, mutex-protected ring buffer of Entry, safe to
// read concurrently from the HTTP handler while the stepper's
// goroutine appends to it.
type Buffer struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
	logging  bool
}

// NewBuffer returns a Buffer holding at most capacity entries.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{capacity: capacity}
}

// StartLogging begins capturing entries; Download calls this so a
// subsequent error report can drain what happened during Download and
// the Install that follows it. Entries logged before StartLogging are
// discarded.
func (b *Buffer) StartLogging() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logging = true
	b.entries = b.entries[:0]
}

// StopLogging halts capture without discarding the buffer, called
// after a successful Install per spec.md §4.1.
func (b *Buffer) StopLogging() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logging = false
}

// Append records entry, evicting the oldest one if at capacity.
func (b *Buffer) Append(entry Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.logging {
		return
	}

	b.entries = append(b.entries, entry)
	if len(b.entries) > b.capacity {
		b.entries = b.entries[len(b.entries)-b.capacity:]
	}
}

// Entries returns a snapshot copy of the buffer's current contents.
func (b *Buffer) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Drain returns the buffer's contents flattened into a single string,
// the shape spec.md §4.1's error report's "current_log" field expects.
func (b *Buffer) Drain() string {
	entries := b.Entries()

	out := ""
	for _, e := range entries {
		out += e.Time.Format(time.RFC3339) + " [" + e.Level + "] " + e.Message + "\n"
	}

	return out
}

// Hook adapts Buffer into a logrus.Hook.
type Hook struct {
	buffer *Buffer
}

// NewHook returns a logrus.Hook that appends every fired entry to buffer.
func NewHook(buffer *Buffer) *Hook {
	return &Hook{buffer: buffer}
}

// Levels reports that this hook fires for every logrus level.
func (h *Hook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire appends entry's fields into the buffer.
func (h *Hook) Fire(entry *logrus.Entry) error {
	data := make(map[string]interface{}, len(entry.Data))
	for k, v := range entry.Data {
		data[k] = v
	}

	h.buffer.Append(Entry{
		Level:   entry.Level.String(),
		Message: entry.Message,
		Time:    entry.Time,
		Data:    data,
	})

	return nil
}

// Install attaches buffer to logger as a hook and returns the Buffer
// for later draining. Mirrors the teacher's daemon.go reporting path,
// which already logs through logrus fields on every state transition.
func Install(logger *logrus.Logger, capacity int) *Buffer {
	buffer := NewBuffer(capacity)
	logger.AddHook(NewHook(buffer))
	return buffer
}
