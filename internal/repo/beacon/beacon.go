// Package beacon delivers attendance reports without making the caller
// wait. Delivery is best effort: a report that cannot be handed off is
// logged and dropped.
package beacon

import (
	"context"
	"sync"
	"time"

	"github.com/IBM/sarama"
	json "github.com/goccy/go-json"
	"github.com/nguyentranbao-ct/consult-live/internal/config"
	"github.com/nguyentranbao-ct/consult-live/internal/models"
	"github.com/nguyentranbao-ct/consult-live/pkg/util"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type Beacon interface {
	// Send hands the report off and returns immediately.
	Send(report models.AttendanceReport)
}

const (
	channelKafka = "kafka"
	channelHTTP  = "http"

	resultQueued  = "queued"
	resultDropped = "dropped"
	resultFailed  = "failed"
	resultSent    = "sent"
)

func reportsMetric() *prometheus.CounterVec {
	return util.MustCounterVec("attendance_reports_total", "Attendance reports handed to a beacon", "channel", "result")
}

type attendanceRecord struct {
	SessionID string `json:"sessionId"`
	models.AttendanceReport
	SentAt time.Time `json:"sentAt"`
}

// KafkaBeacon publishes reports on the attendance topic.
type KafkaBeacon struct {
	producer sarama.AsyncProducer
	topic    string
	log      *zap.SugaredLogger
	metric   *prometheus.CounterVec

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

var _ Beacon = (*KafkaBeacon)(nil)

func NewKafkaBeacon(producer sarama.AsyncProducer, conf *config.Config, log *zap.SugaredLogger) *KafkaBeacon {
	b := &KafkaBeacon{
		producer: producer,
		topic:    conf.Kafka.AttendanceTopic,
		log:      log.Named("beacon"),
		metric:   reportsMetric(),
		done:     make(chan struct{}),
	}
	go b.drainErrors()
	return b
}

func (b *KafkaBeacon) Send(report models.AttendanceReport) {
	value, err := json.Marshal(attendanceRecord{
		SessionID:        report.SessionID,
		AttendanceReport: report,
		SentAt:           time.Now(),
	})
	if err != nil {
		b.log.Errorw("encode attendance report", "session_id", report.SessionID, "error", err)
		b.metric.WithLabelValues(channelKafka, resultFailed).Inc()
		return
	}
	msg := &sarama.ProducerMessage{
		Topic: b.topic,
		Key:   sarama.StringEncoder(report.SessionID),
		Value: sarama.ByteEncoder(value),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.log.Warnw("beacon closed, attendance report dropped", "session_id", report.SessionID)
		b.metric.WithLabelValues(channelKafka, resultDropped).Inc()
		return
	}
	select {
	case b.producer.Input() <- msg:
		b.metric.WithLabelValues(channelKafka, resultQueued).Inc()
	default:
		b.log.Warnw("producer buffer full, attendance report dropped", "session_id", report.SessionID)
		b.metric.WithLabelValues(channelKafka, resultDropped).Inc()
	}
}

func (b *KafkaBeacon) drainErrors() {
	defer close(b.done)
	for perr := range b.producer.Errors() {
		b.log.Errorw("deliver attendance report", "topic", perr.Msg.Topic, "error", perr.Err)
		b.metric.WithLabelValues(channelKafka, resultFailed).Inc()
	}
}

// Close flushes buffered reports and stops the producer.
func (b *KafkaBeacon) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.producer.AsyncClose()
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reporter is the part of the backend client the HTTP beacon needs.
type Reporter interface {
	ReportAttendance(ctx context.Context, report models.AttendanceReport) error
}

// HTTPBeacon posts the report to the backend from a detached goroutine.
type HTTPBeacon struct {
	reporter Reporter
	timeout  time.Duration
	log      *zap.SugaredLogger
	metric   *prometheus.CounterVec
	wg       sync.WaitGroup
}

var _ Beacon = (*HTTPBeacon)(nil)

func NewHTTPBeacon(reporter Reporter, conf *config.Config, log *zap.SugaredLogger) *HTTPBeacon {
	timeout := conf.Session.StepTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPBeacon{
		reporter: reporter,
		timeout:  timeout,
		log:      log.Named("beacon"),
		metric:   reportsMetric(),
	}
}

func (b *HTTPBeacon) Send(report models.AttendanceReport) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()
		if err := b.reporter.ReportAttendance(ctx, report); err != nil {
			b.log.Warnw("report attendance", "session_id", report.SessionID, "error", err)
			b.metric.WithLabelValues(channelHTTP, resultFailed).Inc()
			return
		}
		b.metric.WithLabelValues(channelHTTP, resultSent).Inc()
	}()
}

// Close waits for in-flight reports until ctx is done.
func (b *HTTPBeacon) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
