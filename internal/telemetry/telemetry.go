// Package telemetry carries structured scheduler events to external
// observers: the SSE stream, the log, or test recorders.
package telemetry

import "go.uber.org/zap"

// Sink accepts structured events. Emit is best-effort and must never block
// the caller; implementations drop rather than stall.
type Sink interface {
	Emit(event string, payload any)
}

// Nop discards all events.
type Nop struct{}

func (Nop) Emit(string, any) {}

// LogSink writes events to the structured log.
type LogSink struct {
	Log *zap.SugaredLogger
}

func (s LogSink) Emit(event string, payload any) {
	s.Log.Debugw("telemetry", "event", event, "payload", payload)
}

// Multi fans an event out to several sinks in order.
type Multi []Sink

func (m Multi) Emit(event string, payload any) {
	for _, s := range m {
		s.Emit(event, payload)
	}
}
