// Package metrics はパイプラインの Prometheus メトリクスを提供します
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "interview_pipeline"

// 結果ラベル
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Metrics はサービスの全メトリクスを保持します
// nil の *Metrics に対する Record 系メソッドは何もしません
type Metrics struct {
	MergeTasks          *prometheus.CounterVec
	MergeDuration       prometheus.Histogram
	TranscriptionJobs   *prometheus.CounterVec
	TranscriptionTime   prometheus.Histogram
	MediaCommandLatency *prometheus.HistogramVec
	MediaCommandErrors  *prometheus.CounterVec
	ProbeFallbacks      prometheus.Counter
	SummaryFailures     prometheus.Counter
	Recovered           *prometheus.CounterVec
	QueueDepth          prometheus.Gauge
	EventsPublished     *prometheus.CounterVec
}

// New は reg にメトリクスを登録して返します
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		MergeTasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_tasks_total",
			Help:      "Number of merge task runs by outcome",
		}, []string{"outcome"}),
		MergeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "merge_duration_seconds",
			Help:      "Wall-clock time of a merge task body",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		}),
		TranscriptionJobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_jobs_total",
			Help:      "Number of transcription job runs by outcome",
		}, []string{"outcome"}),
		TranscriptionTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_duration_seconds",
			Help:      "Wall-clock time of a transcription job body",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		MediaCommandLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "media_command_duration_seconds",
			Help:      "Duration of ffmpeg/ffprobe invocations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		MediaCommandErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_command_errors_total",
			Help:      "Failed ffmpeg/ffprobe invocations",
		}, []string{"op"}),
		ProbeFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_fallbacks_total",
			Help:      "Segments whose declared duration was used because probing failed",
		}),
		SummaryFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_failures_total",
			Help:      "Summaries that could not be generated",
		}),
		Recovered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovered_total",
			Help:      "Records reset from a stale processing state",
		}, []string{"kind"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_queue_depth",
			Help:      "Jobs waiting in the worker queue",
		}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Pipeline events published by type and result",
		}, []string{"type", "result"}),
	}
}

// RecordMerge はマージタスク1回分の結果を記録します
func (m *Metrics) RecordMerge(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.MergeTasks.WithLabelValues(outcome).Inc()
	if outcome != OutcomeSkipped {
		m.MergeDuration.Observe(elapsed.Seconds())
	}
}

// RecordTranscription は文字起こしジョブ1回分の結果を記録します
func (m *Metrics) RecordTranscription(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.TranscriptionJobs.WithLabelValues(outcome).Inc()
	if outcome != OutcomeSkipped {
		m.TranscriptionTime.Observe(elapsed.Seconds())
	}
}

// RecordMediaCommand は ffmpeg / ffprobe 実行を記録します
func (m *Metrics) RecordMediaCommand(op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.MediaCommandLatency.WithLabelValues(op).Observe(elapsed.Seconds())
	if err != nil {
		m.MediaCommandErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) RecordProbeFallback() {
	if m == nil {
		return
	}
	m.ProbeFallbacks.Inc()
}

func (m *Metrics) RecordSummaryFailure() {
	if m == nil {
		return
	}
	m.SummaryFailures.Inc()
}

// RecordRecovered は stale と判定されて pending に戻されたレコードを数えます
func (m *Metrics) RecordRecovered(kind string) {
	if m == nil {
		return
	}
	m.Recovered.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) RecordEvent(eventType string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.EventsPublished.WithLabelValues(eventType, result).Inc()
}
