package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/glenfinch/river-snap-service/internal/config"
	"github.com/glenfinch/river-snap-service/internal/domain"
)

// Reader consumes raw site records from the source topic.
// It implements pipeline.BatchExtractor.
type Reader struct {
	reader        *kafkago.Reader
	logger        *slog.Logger
	brokers       []string
	flushInterval time.Duration
}

// NewReader creates a Kafka consumer for the configured source topic.
// Offsets are committed explicitly through RawRecord.Commit, never on an
// interval, so records survive a crash between fetch and load.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.KafkaSourceTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
	})
	return &Reader{
		reader:        r,
		logger:        logger,
		brokers:       cfg.KafkaBrokers,
		flushInterval: cfg.BatchFlushInterval,
	}
}

// ExtractBatch fetches up to batchSize records, returning early with a
// partial batch when the flush interval elapses first. An empty batch with
// a nil error means the window closed with nothing to read.
func (r *Reader) ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawRecord, error) {
	batchCtx, cancel := context.WithTimeout(ctx, r.flushInterval)
	defer cancel()

	records := make([]domain.RawRecord, 0, batchSize)
	for len(records) < batchSize {
		msg, err := r.reader.FetchMessage(batchCtx)
		if err != nil {
			// The flush window closing is not a failure while the caller's
			// context is still alive.
			if batchCtx.Err() != nil && ctx.Err() == nil {
				return records, nil
			}
			return nil, fmt.Errorf("fetch message: %w", err)
		}
		records = append(records, r.mapMessage(msg))
	}
	return records, nil
}

// CheckConnection dials the first broker to verify Kafka is reachable.
func (r *Reader) CheckConnection(ctx context.Context) error {
	if len(r.brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	conn, err := kafkago.DialContext(ctx, "tcp", r.brokers[0])
	if err != nil {
		return fmt.Errorf("dial kafka broker %s: %w", r.brokers[0], err)
	}
	return conn.Close()
}

func (r *Reader) Close() error {
	return r.reader.Close()
}

// mapMessage converts a fetched message and attaches its offset commit.
func (r *Reader) mapMessage(msg kafkago.Message) domain.RawRecord {
	raw := mapMessageToRawRecord(msg)
	raw.Commit = func(ctx context.Context) error {
		return r.reader.CommitMessages(ctx, msg)
	}
	return raw
}

// mapMessageToRawRecord copies the transport fields of a Kafka message into
// a domain record.
func mapMessageToRawRecord(msg kafkago.Message) domain.RawRecord {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return domain.RawRecord{
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   headers,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
	}
}
