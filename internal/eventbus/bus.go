// Package eventbus provides level-gated structured logging with a bounded
// recent-entry ring and a topic-keyed publish/subscribe hub for SSE readers.
package eventbus

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Level orders log severity; Debug is the least severe.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Record is one emitted event, snapshot into the ring and published to subscribers.
type Record struct {
	Time    time.Time      `json:"time"`
	Level   Level          `json:"-"`
	LevelS  string         `json:"level"`
	Tag     string         `json:"tag"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

const ringCapacity = 200

// subscriber queue depth. A slow reader gets its oldest queued record
// dropped rather than ever blocking the emitting goroutine.
const subscriberQueueDepth = 64

const wildcardTopic = "*"

// logTopic receives every emitted record, whatever its tag.
const logTopic = "log"

type subscriber struct {
	ch chan Record
}

// Bus is the process-wide logger/event hub. Zero value is not usable; build
// with New.
type Bus struct {
	logger *zap.Logger
	level  Level

	mu    sync.RWMutex
	ring  []Record
	head  int
	count int
	subs  map[string][]*subscriber
}

// New creates a Bus that gates emitted records below minLevel and forwards
// everything at or above it to logger.
func New(logger *zap.Logger, minLevel Level) *Bus {
	return &Bus{
		logger: logger,
		level:  minLevel,
		ring:   make([]Record, ringCapacity),
		subs:   make(map[string][]*subscriber),
	}
}

// Emit appends a record to the ring, logs it through zap, and publishes it
// to subscribers of tag, of the "log" topic, and of the wildcard topic. A
// subscriber whose queue is full has its oldest entry evicted rather than
// stalling the caller.
func (b *Bus) Emit(level Level, tag, message string, fields map[string]any) {
	if level < b.level {
		return
	}
	rec := Record{
		Time:    time.Now(),
		Level:   level,
		LevelS:  level.String(),
		Tag:     tag,
		Message: message,
		Fields:  fields,
	}

	b.logToZap(rec)

	b.mu.Lock()
	b.ring[b.head] = rec
	b.head = (b.head + 1) % ringCapacity
	if b.count < ringCapacity {
		b.count++
	}
	targets := append(append([]*subscriber{}, b.subs[tag]...), b.subs[wildcardTopic]...)
	if tag != logTopic {
		targets = append(targets, b.subs[logTopic]...)
	}
	b.mu.Unlock()

	for _, s := range targets {
		publishNonBlocking(s.ch, rec)
	}
}

func publishNonBlocking(ch chan Record, rec Record) {
	select {
	case ch <- rec:
		return
	default:
	}
	// Queue full: drop the oldest and retry once.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- rec:
	default:
	}
}

func (b *Bus) logToZap(rec Record) {
	if b.logger == nil {
		return
	}
	fs := make([]zap.Field, 0, len(rec.Fields)+1)
	fs = append(fs, zap.String("tag", rec.Tag))
	for k, v := range rec.Fields {
		fs = append(fs, zap.Any(k, v))
	}
	switch rec.Level {
	case Debug:
		b.logger.Debug(rec.Message, fs...)
	case Warn:
		b.logger.Warn(rec.Message, fs...)
	case Error:
		b.logger.Error(rec.Message, fs...)
	default:
		b.logger.Info(rec.Message, fs...)
	}
}

// Subscribe registers a subscriber for topic ("*" sees every event) and
// returns the channel plus a cancel func that unregisters it.
func (b *Bus) Subscribe(topic string) (<-chan Record, func()) {
	if topic == "" {
		topic = wildcardTopic
	}
	s := &subscriber{ch: make(chan Record, subscriberQueueDepth)}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], s)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[topic]
		for i, cand := range list {
			if cand == s {
				b.subs[topic] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(s.ch)
	}
	return s.ch, cancel
}

// Snapshot returns up to n of the most recent records, oldest first.
func (b *Bus) Snapshot(n int) []Record {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || n > b.count {
		n = b.count
	}
	out := make([]Record, n)
	start := (b.head - n + ringCapacity) % ringCapacity
	for i := 0; i < n; i++ {
		out[i] = b.ring[(start+i)%ringCapacity]
	}
	return out
}

// Convenience helpers mirroring the Level constants.

func (b *Bus) Debugf(tag, msg string, fields map[string]any) { b.Emit(Debug, tag, msg, fields) }
func (b *Bus) Infof(tag, msg string, fields map[string]any)  { b.Emit(Info, tag, msg, fields) }
func (b *Bus) Warnf(tag, msg string, fields map[string]any)  { b.Emit(Warn, tag, msg, fields) }
func (b *Bus) Errorf(tag, msg string, fields map[string]any) { b.Emit(Error, tag, msg, fields) }
