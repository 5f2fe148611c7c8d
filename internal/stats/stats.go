// Package stats accumulates cross-session resolution metrics. Sessions
// run independently, so the collector tolerates concurrent observations;
// per-resolution records additionally go to a flat key-value log sink.
package stats

import (
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/stat"
)

// maxSamples bounds the rolling confidence and latency windows.
const maxSamples = 512

// Record is the observability artifact of one finished resolution.
type Record struct {
	Confidence float64
	Candidate  string
	Accepted   bool
	Attempts   int
	Color      string
	Method     string
	Latency    time.Duration
}

// Sink consumes one Record per finished resolution.
type Sink interface {
	Emit(Record)
}

// LogSink writes records as flat key=value lines.
type LogSink struct {
	Logger *log.Logger
}

func (s LogSink) Emit(r Record) {
	s.Logger.Printf("resolution accepted=%t method=%s text_confidence=%.1f candidate=%s attempts=%d color=%s latency_ms=%d",
		r.Accepted, r.Method, r.Confidence, r.Candidate, r.Attempts, r.Color, r.Latency.Milliseconds())
}

// Tee fans one record out to several sinks.
func Tee(sinks ...Sink) Sink {
	return teeSink(sinks)
}

type teeSink []Sink

func (t teeSink) Emit(r Record) {
	for _, s := range t {
		s.Emit(r)
	}
}

// Snapshot is a point-in-time view of the collector.
type Snapshot struct {
	Accepted   int64
	Failed     int64
	Manual     int64
	API        int64
	Rejections int64

	MeanConfidence   float64
	StdDevConfidence float64
	MeanLatency      time.Duration
	P95Latency       time.Duration
}

// Collector aggregates records from concurrent sessions. The zero value
// is ready to use.
type Collector struct {
	accepted   atomic.Int64
	failed     atomic.Int64
	manual     atomic.Int64
	api        atomic.Int64
	rejections atomic.Int64

	confidences rolling
	latencies   rolling
}

// Emit records one resolution; Collector satisfies Sink.
func (c *Collector) Emit(r Record) {
	if r.Accepted {
		c.accepted.Add(1)
	} else {
		c.failed.Add(1)
	}
	switch r.Method {
	case "manual":
		c.manual.Add(1)
	case "api":
		c.api.Add(1)
	}

	c.confidences.add(r.Confidence)
	c.latencies.add(float64(r.Latency))
}

// AddRejection counts one rejected submission inside a session.
func (c *Collector) AddRejection() {
	c.rejections.Add(1)
}

// Snapshot computes summary statistics over the rolling windows.
func (c *Collector) Snapshot() Snapshot {
	s := Snapshot{
		Accepted:   c.accepted.Load(),
		Failed:     c.failed.Load(),
		Manual:     c.manual.Load(),
		API:        c.api.Load(),
		Rejections: c.rejections.Load(),
	}

	if confs := c.confidences.values(); len(confs) > 0 {
		s.MeanConfidence = stat.Mean(confs, nil)
		if len(confs) > 1 {
			s.StdDevConfidence = stat.StdDev(confs, nil)
		}
	}
	if lats := c.latencies.values(); len(lats) > 0 {
		s.MeanLatency = time.Duration(stat.Mean(lats, nil))
		sort.Float64s(lats)
		s.P95Latency = time.Duration(stat.Quantile(0.95, stat.Empirical, lats, nil))
	}
	return s
}

// rolling is a fixed-size sample window.
type rolling struct {
	mu   sync.Mutex
	buf  []float64
	next int
	full bool
}

func (r *rolling) add(v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.buf == nil {
		r.buf = make([]float64, maxSamples)
	}
	r.buf[r.next] = v
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

func (r *rolling) values() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.buf == nil {
		return nil
	}
	n := r.next
	if r.full {
		n = len(r.buf)
	}
	out := make([]float64, n)
	copy(out, r.buf[:n])
	return out
}
