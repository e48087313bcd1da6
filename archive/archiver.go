//go:generate mockgen -source=archiver.go -destination=mock/kafka.go -package=mock

// Package archive streams every stored message to a Kafka topic so
// downstream consumers (search indexing, analytics) can follow the chat
// log without touching the document store.
package archive

import (
	"context"
	"encoding/json"
	"time"

	"github.com/golang/glog"
	"github.com/segmentio/kafka-go"

	"github.com/duochat/duochat/store"
)

const (
	kafkaWriteTimeout = 10 * time.Second

	BackoffMinInterval = 1 * time.Second
	BackoffMaxInterval = 60 * time.Second
	BackoffMultiplier  = 1.5
)

type IKafkaWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Archiver drains a buffered message channel into Kafka. Producers must
// never block on it: the hub drops messages when the buffer is full.
type Archiver struct {
	writer IKafkaWriter
	in     chan *store.Message
}

func NewArchiver(writer IKafkaWriter, bufSize int) *Archiver {
	return &Archiver{
		writer: writer,
		in:     make(chan *store.Message, bufSize),
	}
}

// In is the channel the hub feeds.
func (a *Archiver) In() chan<- *store.Message {
	return a.in
}

// NewWriter builds the production Kafka writer.
func NewWriter(brokers []string, topic string) IKafkaWriter {
	return kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    topic,
		Balancer: &kafka.Hash{},
		Dialer: &kafka.Dialer{
			Timeout:   kafkaWriteTimeout,
			DualStack: true,
		},
	})
}

// Run consumes the channel until ctx is cancelled, then closes the
// writer and signals stopDoneNotifyC.
func (a *Archiver) Run(ctx context.Context, stopDoneNotifyC chan<- struct{}) {
	defer func() {
		if err := a.writer.Close(); err != nil {
			glog.Errorf("archiver: close writer: %v", err)
		}
		glog.Infof("archiver stopped")
		stopDoneNotifyC <- struct{}{}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-a.in:
			a.writeMsg(ctx, msg)
		}
	}
}

// writeMsg retries with backoff until the write succeeds or ctx ends.
// The archive is best-effort ordered per sender via the hash balancer.
func (a *Archiver) writeMsg(ctx context.Context, msg *store.Message) {
	value, err := json.Marshal(msg)
	if err != nil {
		glog.Errorf("archiver: marshal message %s: %v", msg.ID, err)
		return
	}

	km := kafka.Message{
		Key:   []byte(msg.From),
		Value: value,
		Time:  msg.Timestamp,
	}

	interval := BackoffMinInterval
	for {
		err := a.writer.WriteMessages(ctx, km)
		if err == nil {
			glog.V(5).Infof("archiver: wrote message %s", msg.ID)
			return
		}
		if ctx.Err() != nil {
			return
		}

		glog.Errorf("archiver: write message %s: %v, retry in %v", msg.ID, err, interval)
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		interval = time.Duration(float64(interval) * BackoffMultiplier)
		if interval > BackoffMaxInterval {
			interval = BackoffMaxInterval
		}
	}
}
