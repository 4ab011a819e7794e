// Package eventlog implements the provider daemon's append-only JSONL
// event log sinks (spec §6 User-visible behavior): vm_requests,
// vm_lifecycle, resources, vpn, errors, heartbeats. Each line is an
// opaque event object carrying a timestamp and the component tag that
// produced it.
//
// Grounded on internal/logger's structured-JSON-line writer shape
// (internal/logger/logger.go: one io.Writer, one json.Marshal per
// entry, newline-delimited) generalized from "a single structured log
// stream" to "N named JSONL sinks, each independently size-rotated" --
// rotation is delegated to lumberjack.Logger (gopkg.in/natefinch
// /lumberjack.v2), already present in go.mod as a transitive logging
// dependency and given a concrete direct caller here rather than being
// dropped.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Components are the fixed set of named sinks the provider daemon
// maintains (spec §6).
const (
	ComponentVMRequests  = "vm_requests"
	ComponentVMLifecycle = "vm_lifecycle"
	ComponentResources   = "resources"
	ComponentVPN         = "vpn"
	ComponentErrors      = "errors"
	ComponentHeartbeats  = "heartbeats"
)

var allComponents = []string{
	ComponentVMRequests, ComponentVMLifecycle, ComponentResources,
	ComponentVPN, ComponentErrors, ComponentHeartbeats,
}

type entry struct {
	Timestamp time.Time              `json:"timestamp"`
	Component string                 `json:"component"`
	Fields    map[string]interface{} `json:"fields"`
}

// Log owns one rotating JSONL file per component and implements
// vm/protocol.EventSink so the provider daemon can record directly into
// it.
type Log struct {
	mu   sync.Mutex
	sink map[string]*lumberjack.Logger
}

// Open creates (or opens) a Log rooted at dir, one file per named
// component: dir/<component>.jsonl.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create event log directory: %w", err)
	}
	l := &Log{sink: make(map[string]*lumberjack.Logger, len(allComponents))}
	for _, c := range allComponents {
		l.sink[c] = &lumberjack.Logger{
			Filename:   filepath.Join(dir, c+".jsonl"),
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
	}
	return l, nil
}

// Record writes one JSONL entry to component's sink, creating it
// lazily if component isn't one of the fixed names (so an unexpected
// component tag still gets logged rather than dropped silently).
func (l *Log) Record(component string, fields map[string]interface{}) {
	l.mu.Lock()
	w, ok := l.sink[component]
	if !ok {
		dir := filepath.Dir(l.sink[ComponentErrors].Filename)
		w = &lumberjack.Logger{Filename: filepath.Join(dir, component+".jsonl"), MaxSize: 10, MaxBackups: 5, MaxAge: 30}
		l.sink[component] = w
	}
	l.mu.Unlock()

	line, err := json.Marshal(entry{Timestamp: time.Now(), Component: component, Fields: fields})
	if err != nil {
		return
	}
	line = append(line, '\n')
	l.mu.Lock()
	_, _ = w.Write(line)
	l.mu.Unlock()
}

// Close flushes and closes every sink.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for _, w := range l.sink {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
