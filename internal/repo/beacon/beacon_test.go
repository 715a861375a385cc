package beacon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/nguyentranbao-ct/consult-live/internal/config"
	"github.com/nguyentranbao-ct/consult-live/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		Kafka:   config.KafkaConfig{AttendanceTopic: "attendance"},
		Session: config.SessionConfig{StepTimeout: time.Second},
	}
}

var report = models.AttendanceReport{
	SessionID:          "s1",
	DurationMinutes:    12.5,
	ParticipationScore: 80,
	Reason:             models.LeaveReasonUnload,
}

func TestKafkaBeaconSend(t *testing.T) {
	producer := mocks.NewAsyncProducer(t, nil)
	producer.ExpectInputWithCheckerFunctionAndSucceed(func(val []byte) error {
		if gjson.GetBytes(val, "sessionId").String() != "s1" {
			return errors.New("missing session id")
		}
		if gjson.GetBytes(val, "reason").String() != "unload" {
			return errors.New("missing reason")
		}
		if gjson.GetBytes(val, "participationScore").Int() != 80 {
			return errors.New("missing score")
		}
		return nil
	})
	producer.ExpectInputAndFail(sarama.ErrOutOfBrokers)

	b := NewKafkaBeacon(producer, testConfig(), zap.NewNop().Sugar())
	b.Send(report)
	b.Send(report)

	require.NoError(t, b.Close(t.Context()))
	require.NoError(t, b.Close(t.Context()))

	// sending after close is dropped, not a panic
	b.Send(report)
}

type blockedProducer struct {
	sarama.AsyncProducer
	input  chan *sarama.ProducerMessage
	errors chan *sarama.ProducerError
	once   sync.Once
}

func (p *blockedProducer) Input() chan<- *sarama.ProducerMessage { return p.input }
func (p *blockedProducer) Errors() <-chan *sarama.ProducerError  { return p.errors }
func (p *blockedProducer) AsyncClose()                           { p.once.Do(func() { close(p.errors) }) }

func TestKafkaBeaconDoesNotBlock(t *testing.T) {
	p := &blockedProducer{
		input:  make(chan *sarama.ProducerMessage),
		errors: make(chan *sarama.ProducerError),
	}
	b := NewKafkaBeacon(p, testConfig(), zap.NewNop().Sugar())

	done := make(chan struct{})
	go func() {
		b.Send(report)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Send blocked on a full producer")
	}
	require.NoError(t, b.Close(t.Context()))
}

type fakeReporter struct {
	mu      sync.Mutex
	reports []models.AttendanceReport
	release chan struct{}
	err     error
}

func (f *fakeReporter) ReportAttendance(ctx context.Context, r models.AttendanceReport) error {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, r)
	return f.err
}

func (f *fakeReporter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reports)
}

func TestHTTPBeacon(t *testing.T) {
	t.Run("returns before the request completes", func(t *testing.T) {
		r := &fakeReporter{release: make(chan struct{})}
		b := NewHTTPBeacon(r, testConfig(), zap.NewNop().Sugar())

		b.Send(report)
		assert.Zero(t, r.count())

		close(r.release)
		require.NoError(t, b.Close(t.Context()))
		assert.Equal(t, 1, r.count())
	})

	t.Run("failures are swallowed", func(t *testing.T) {
		r := &fakeReporter{err: errors.New("boom")}
		b := NewHTTPBeacon(r, testConfig(), zap.NewNop().Sugar())
		b.Send(report)
		require.NoError(t, b.Close(t.Context()))
		assert.Equal(t, 1, r.count())
	})

	t.Run("close honours the context", func(t *testing.T) {
		r := &fakeReporter{release: make(chan struct{})}
		b := NewHTTPBeacon(r, testConfig(), zap.NewNop().Sugar())
		b.Send(report)

		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		assert.ErrorIs(t, b.Close(ctx), context.Canceled)
		close(r.release)
	})
}
