// Package usage appends token usage records for completed backend
// calls. The ledger is reporting-only; the admission path never reads
// it.
package usage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/llmgate/llmgate/internal/config"
	"github.com/llmgate/llmgate/internal/observability"
)

// Record is one completed backend call.
type Record struct {
	Subject      string    `json:"subject"`
	Provider     string    `json:"provider,omitempty"`
	Model        string    `json:"model,omitempty"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	Timestamp    time.Time `json:"timestamp"`
}

// Recorder appends usage records.
type Recorder interface {
	// Record writes one usage record. Failures are logged, not
	// propagated; usage accounting must never fail a request.
	Record(record *Record)

	// Close flushes and closes the underlying writer.
	Close() error
}

type recorder struct {
	mu      sync.Mutex
	writer  io.Writer
	closer  io.Closer
	logger  observability.Logger
	metrics *Metrics
}

// Metrics collects usage counters.
type Metrics struct {
	tokens *prometheus.CounterVec
}

// NewMetrics creates Metrics on the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates Metrics on the given registerer.
func NewMetricsWithRegisterer(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: observability.MetricsNamespace,
				Subsystem: "usage",
				Name:      "tokens_total",
				Help:      "Tokens metered by direction and model.",
			},
			[]string{"direction", "model"},
		),
	}
	observability.MustRegister(registerer, m.tokens)
	return m
}

// RecordTokens counts metered tokens.
func (m *Metrics) RecordTokens(record *Record) {
	m.tokens.WithLabelValues("input", record.Model).Add(float64(record.InputTokens))
	m.tokens.WithLabelValues("output", record.Model).Add(float64(record.OutputTokens))
}

// RecorderOption is a functional option for the recorder.
type RecorderOption func(*recorder)

// WithRecorderLogger sets the logger.
func WithRecorderLogger(logger observability.Logger) RecorderOption {
	return func(r *recorder) {
		r.logger = logger
	}
}

// WithRecorderWriter sets the writer, used by tests.
func WithRecorderWriter(writer io.Writer) RecorderOption {
	return func(r *recorder) {
		r.writer = writer
	}
}

// WithRecorderMetrics sets the metrics collector.
func WithRecorderMetrics(m *Metrics) RecorderOption {
	return func(r *recorder) {
		r.metrics = m
	}
}

// NewRecorder creates a JSON-lines usage recorder.
func NewRecorder(cfg *config.UsageConfig, opts ...RecorderOption) (Recorder, error) {
	r := &recorder{
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.writer == nil {
		switch cfg.Path {
		case "stdout":
			r.writer = os.Stdout
		case "stderr":
			r.writer = os.Stderr
		default:
			file, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
			if err != nil {
				return nil, fmt.Errorf("failed to open usage ledger: %w", err)
			}
			r.writer = file
			r.closer = file
		}
	}
	return r, nil
}

func (r *recorder) Record(record *Record) {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(record)
	if err != nil {
		r.logger.Error("failed to marshal usage record", observability.Error(err))
		return
	}

	r.mu.Lock()
	_, err = r.writer.Write(append(data, '\n'))
	r.mu.Unlock()
	if err != nil {
		r.logger.Error("failed to write usage record", observability.Error(err))
		return
	}

	if r.metrics != nil {
		r.metrics.RecordTokens(record)
	}
}

func (r *recorder) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// NopRecorder discards every record, used when usage accounting is
// disabled.
func NopRecorder() Recorder {
	return nopRecorder{}
}

type nopRecorder struct{}

func (nopRecorder) Record(*Record) {}
func (nopRecorder) Close() error   { return nil }

var _ Recorder = (*recorder)(nil)
