// Package nats implements the message queue port using NATS JetStream.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/voxguard/guardian/internal/logger"
	"github.com/voxguard/guardian/internal/port/messagequeue"
)

const streamName = "GUARDIAN"

const (
	headerRequestID  = "Guardian-Request-Id"
	headerRetryCount = "Guardian-Retry-Count"

	// maxRetries is the number of redeliveries before a poisoned message
	// moves to its subject's .dlq sibling.
	maxRetries = 3
)

// Queue implements messagequeue.Queue using NATS JetStream.
type Queue struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect establishes a connection to NATS and ensures the JetStream stream exists.
func Connect(ctx context.Context, url string) (*Queue, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	// Ensure the stream exists with subjects matching our topic patterns.
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"guardian.>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName)
	return &Queue{nc: nc, js: js}, nil
}

// Publish sends a message to the given subject, carrying the context's
// request ID as a header so consumers can correlate log lines.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  nats.Header{},
	}
	if reqID := logger.RequestID(ctx); reqID != "" {
		msg.Header.Set(headerRequestID, reqID)
	}
	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler for messages on the given subject. Each call
// creates its own ephemeral consumer, so subscriptions are independent and
// one slow subscriber cannot stall another.
func (q *Queue) Subscribe(ctx context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		hdrs := msg.Headers()
		msgCtx := context.Background()
		if reqID := hdrs.Get(headerRequestID); reqID != "" {
			msgCtx = logger.WithRequestID(msgCtx, reqID)
		}

		if err := messagequeue.Validate(msg.Subject(), msg.Data()); err != nil {
			slog.Error("message failed validation", "subject", msg.Subject(), "error", err)
			q.moveToDLQ(msgCtx, msg)
			return
		}

		if err := handler(msgCtx, msg.Subject(), msg.Data()); err != nil {
			slog.Error("message handler failed", "subject", msg.Subject(), "error", err)
			if retryCount(hdrs) >= maxRetries || deliveries(msg) > maxRetries {
				q.moveToDLQ(msgCtx, msg)
				return
			}
			if nakErr := msg.Nak(); nakErr != nil {
				slog.Error("nats nak failed", "error", nakErr)
			}
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			slog.Error("nats ack failed", "error", ackErr)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	return cons.Stop, nil
}

// moveToDLQ republishes the message on its subject's .dlq sibling and acks
// the original so it stops redelivering.
func (q *Queue) moveToDLQ(ctx context.Context, msg jetstream.Msg) {
	dlqSubject := msg.Subject() + ".dlq"
	dlq := &nats.Msg{
		Subject: dlqSubject,
		Data:    msg.Data(),
		Header:  msg.Headers(),
	}
	if _, err := q.js.PublishMsg(ctx, dlq); err != nil {
		slog.Error("dlq publish failed", "subject", dlqSubject, "error", err)
		// Leave the message unacked so JetStream redelivers it.
		return
	}
	if err := msg.Ack(); err != nil {
		slog.Error("dlq ack failed", "subject", msg.Subject(), "error", err)
	}
	slog.Warn("message moved to dlq", "subject", dlqSubject)
}

func retryCount(hdrs nats.Header) int {
	n, err := strconv.Atoi(hdrs.Get(headerRetryCount))
	if err != nil {
		return 0
	}
	return n
}

// deliveries returns how many times JetStream has delivered the message.
func deliveries(msg jetstream.Msg) int {
	meta, err := msg.Metadata()
	if err != nil {
		return 0
	}
	return int(meta.NumDelivered)
}

// KeyValue returns (creating if needed) a JetStream KV bucket with the given
// per-entry TTL. Used for idempotency-key replay storage.
func (q *Queue) KeyValue(ctx context.Context, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := q.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
		TTL:    ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("nats kv bucket %s: %w", bucket, err)
	}
	return kv, nil
}

// Drain gracefully drains all subscriptions before closing.
func (q *Queue) Drain() error {
	return q.nc.Drain()
}

// Close shuts down the NATS connection.
func (q *Queue) Close() error {
	q.nc.Close()
	return nil
}

// IsConnected reports whether the NATS connection is currently up.
func (q *Queue) IsConnected() bool {
	return q.nc.IsConnected()
}
