package kafka

import (
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/nguyentranbao-ct/consult-live/internal/config"
)

// newSaramaConfig tunes the producer for small, latency tolerant records:
// nothing waits on delivery, errors are reported on the Errors channel.
func newSaramaConfig(cfg config.KafkaConfig) *sarama.Config {
	c := sarama.NewConfig()
	c.ClientID = cfg.ClientID

	c.Producer.RequiredAcks = sarama.WaitForLocal
	c.Producer.Return.Successes = false
	c.Producer.Return.Errors = true
	c.Producer.Retry.Max = 3
	c.Producer.Retry.Backoff = 250 * time.Millisecond
	c.Producer.Flush.Frequency = 100 * time.Millisecond
	c.ChannelBufferSize = 256

	return c
}

func NewAsyncProducer(cfg config.KafkaConfig) (sarama.AsyncProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	p, err := sarama.NewAsyncProducer(cfg.Brokers, newSaramaConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("new async producer: %w", err)
	}
	return p, nil
}
