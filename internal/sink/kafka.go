package sink

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/netmon/internal/config"
	"firestige.xyz/netmon/internal/core"
)

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultMaxAttempts  = 3
)

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes one message per event, keyed by the flow so a flow
// always lands on the same partition. Delivery is asynchronous; the first
// delivery failure is returned by the next Write and by Close.
type KafkaSink struct {
	w     messageWriter
	topic string

	mu  sync.Mutex
	err error
}

// NewKafka creates a writer for cfg.
func NewKafka(cfg config.KafkaSinkConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("%w: kafka output requires brokers and a topic", core.ErrConfigInvalid)
	}
	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}

	wc := kafka.WriterConfig{
		Brokers:          cfg.Brokers,
		Topic:            cfg.Topic,
		Balancer:         &kafka.Hash{},
		BatchSize:        orDefault(cfg.BatchSize, defaultBatchSize),
		BatchTimeout:     cfg.BatchTimeout,
		MaxAttempts:      orDefault(cfg.MaxAttempts, defaultMaxAttempts),
		CompressionCodec: codec,
		Async:            true,
	}
	if wc.BatchTimeout <= 0 {
		wc.BatchTimeout = defaultBatchTimeout
	}

	w := kafka.NewWriter(wc)
	s := &KafkaSink{w: w, topic: cfg.Topic}
	w.Completion = s.complete
	return s, nil
}

func (s *KafkaSink) Write(ev *core.Event, unit []byte) error {
	if err := s.failure(); err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   messageKey(ev),
		Value: bytes.Clone(bytes.TrimSuffix(unit, []byte{'\n'})),
		Time:  ev.Timestamp,
	}
	if err := s.w.WriteMessages(context.Background(), msg); err != nil {
		s.complete(nil, err)
		return s.failure()
	}
	return nil
}

func (s *KafkaSink) Close() error {
	if err := s.w.Close(); err != nil {
		s.complete(nil, err)
	}
	return s.failure()
}

// complete records the first delivery error.
func (s *KafkaSink) complete(_ []kafka.Message, err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	if s.err == nil {
		s.err = fmt.Errorf("%w: kafka topic %s: %w", core.ErrOutput, s.topic, err)
	}
	s.mu.Unlock()
}

func (s *KafkaSink) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// messageKey is "src:port-dst:port".
func messageKey(ev *core.Event) []byte {
	key := make([]byte, 0, 48)
	key = ev.SrcIP().AppendTo(key)
	key = append(key, ':')
	key = strconv.AppendUint(key, uint64(ev.SrcPort), 10)
	key = append(key, '-')
	key = ev.DstIP().AppendTo(key)
	key = append(key, ':')
	key = strconv.AppendUint(key, uint64(ev.DstPort), 10)
	return key
}

func compressionCodec(name string) (compress.Codec, error) {
	switch name {
	case "none", "":
		return nil, nil
	case "gzip":
		return compress.Gzip.Codec(), nil
	case "snappy":
		return compress.Snappy.Codec(), nil
	case "lz4":
		return compress.Lz4.Codec(), nil
	default:
		return nil, fmt.Errorf("%w: invalid compression type: %s", core.ErrConfigInvalid, name)
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
