package stats

import (
	"bytes"
	"log"
	"math"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestCollectorCounts(t *testing.T) {
	var c Collector
	c.Emit(Record{Accepted: true, Method: "ocr", Confidence: 90})
	c.Emit(Record{Accepted: true, Method: "api", Confidence: 90})
	c.Emit(Record{Accepted: true, Method: "manual", Confidence: 90})
	c.Emit(Record{Accepted: false, Method: "ocr", Confidence: 10})
	c.AddRejection()
	c.AddRejection()

	s := c.Snapshot()
	if s.Accepted != 3 {
		t.Errorf("Accepted = %d, want 3", s.Accepted)
	}
	if s.Failed != 1 {
		t.Errorf("Failed = %d, want 1", s.Failed)
	}
	if s.Manual != 1 || s.API != 1 {
		t.Errorf("Manual = %d, API = %d, want 1 and 1", s.Manual, s.API)
	}
	if s.Rejections != 2 {
		t.Errorf("Rejections = %d, want 2", s.Rejections)
	}
}

func TestCollectorConcurrentEmits(t *testing.T) {
	var c Collector
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.Emit(Record{Accepted: i%2 == 0, Method: "ocr", Confidence: 50})
			}
		}(i)
	}
	wg.Wait()

	s := c.Snapshot()
	if got := s.Accepted + s.Failed; got != 1000 {
		t.Errorf("total observations = %d, want 1000", got)
	}
}

func TestSnapshotStatistics(t *testing.T) {
	var c Collector
	for _, conf := range []float64{80, 90, 100} {
		c.Emit(Record{Accepted: true, Method: "ocr", Confidence: conf, Latency: 100 * time.Millisecond})
	}

	s := c.Snapshot()
	if math.Abs(s.MeanConfidence-90) > 0.01 {
		t.Errorf("MeanConfidence = %.2f, want 90", s.MeanConfidence)
	}
	if math.Abs(s.StdDevConfidence-10) > 0.01 {
		t.Errorf("StdDevConfidence = %.2f, want 10", s.StdDevConfidence)
	}
	if s.MeanLatency != 100*time.Millisecond {
		t.Errorf("MeanLatency = %v, want 100ms", s.MeanLatency)
	}
	if s.P95Latency != 100*time.Millisecond {
		t.Errorf("P95Latency = %v, want 100ms", s.P95Latency)
	}
}

func TestRollingWindowIsBounded(t *testing.T) {
	var r rolling
	for i := 0; i < maxSamples+10; i++ {
		r.add(float64(i))
	}
	if got := len(r.values()); got != maxSamples {
		t.Errorf("window holds %d samples, want %d", got, maxSamples)
	}
}

func TestLogSinkFormat(t *testing.T) {
	var buf bytes.Buffer
	sink := LogSink{Logger: log.New(&buf, "", 0)}

	sink.Emit(Record{
		Confidence: 87.5,
		Candidate:  "channel",
		Accepted:   true,
		Attempts:   2,
		Color:      "yellow",
		Method:     "ocr",
		Latency:    1500 * time.Millisecond,
	})

	line := buf.String()
	for _, want := range []string{
		"accepted=true",
		"method=ocr",
		"text_confidence=87.5",
		"candidate=channel",
		"attempts=2",
		"color=yellow",
		"latency_ms=1500",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %q", line, want)
		}
	}
}

func TestTeeFansOut(t *testing.T) {
	var a, b Collector
	Tee(&a, &b).Emit(Record{Accepted: true, Method: "ocr"})

	if a.Snapshot().Accepted != 1 || b.Snapshot().Accepted != 1 {
		t.Error("Tee did not deliver the record to every sink")
	}
}
