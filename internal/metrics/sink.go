// Package metrics carries scalar summaries and windowed training statistics.
package metrics

import (
	"log/slog"
	"sync"
)

// Sink receives named scalar summaries, keyed by training step.
type Sink interface {
	Scalar(name string, value float64, step int)
}

// Discard drops every summary.
var Discard Sink = discard{}

type discard struct{}

func (discard) Scalar(string, float64, int) {}

// Point is one recorded summary.
type Point struct {
	Step  int
	Value float64
}

// Recorder keeps every summary in memory. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	series map[string][]Point
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{series: make(map[string][]Point)}
}

// Scalar records value under name.
func (r *Recorder) Scalar(name string, value float64, step int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.series[name] = append(r.series[name], Point{Step: step, Value: value})
}

// Series returns a copy of the points recorded under name.
func (r *Recorder) Series(name string) []Point {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Point, len(r.series[name]))
	copy(out, r.series[name])
	return out
}

// Last returns the most recent value recorded under name.
func (r *Recorder) Last(name string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pts := r.series[name]
	if len(pts) == 0 {
		return 0, false
	}
	return pts[len(pts)-1].Value, true
}

// LogSink writes each summary as a debug-level structured log record.
type LogSink struct {
	Logger *slog.Logger
}

// Scalar logs the summary.
func (s LogSink) Scalar(name string, value float64, step int) {
	s.Logger.Debug("summary", "name", name, "value", value, "step", step)
}

// Multi fans each summary out to several sinks.
type Multi []Sink

// Scalar forwards to every sink in order.
func (m Multi) Scalar(name string, value float64, step int) {
	for _, s := range m {
		s.Scalar(name, value, step)
	}
}
