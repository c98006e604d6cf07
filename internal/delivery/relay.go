package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/segmentio/kafka-go"
	"github.com/sethvargo/go-retry"

	"account-auth/backend/internal/account/domain"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Relay consumes reset deliveries published by KafkaSink and hands each one
// to an outbound Sink. Offsets are committed only after the outbound sink
// accepts the delivery, so a crash redelivers rather than drops.
type Relay struct {
	reader  messageReader
	out     Sink
	logger  *slog.Logger
	backoff func() retry.Backoff
}

// RelayOptions configures NewKafkaRelay.
type RelayOptions struct {
	Brokers []string
	Topic   string
	GroupID string
	// Attempts is how many times a delivery is tried before Run gives up. Default 5.
	Attempts uint64
}

// NewKafkaRelay returns a Relay reading opts.Topic as consumer group opts.GroupID.
func NewKafkaRelay(opts RelayOptions, out Sink, logger *slog.Logger) (*Relay, error) {
	if len(opts.Brokers) == 0 || opts.Topic == "" || opts.GroupID == "" {
		return nil, errors.New("kafka relay: brokers, topic and group id are required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  opts.Brokers,
		Topic:    opts.Topic,
		GroupID:  opts.GroupID,
		MinBytes: 1,
		MaxBytes: 1e6,
		MaxWait:  time.Second,
	})
	return newRelay(reader, out, logger, opts.Attempts), nil
}

func newRelay(reader messageReader, out Sink, logger *slog.Logger, attempts uint64) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if attempts == 0 {
		attempts = 5
	}
	return &Relay{
		reader: reader,
		out:    out,
		logger: logger,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(attempts-1, retry.WithCappedDuration(5*time.Second, retry.NewExponential(100*time.Millisecond)))
		},
	}
}

// Run relays messages until ctx is canceled, which is not an error. It returns
// an error when a delivery keeps failing; the message stays uncommitted.
func (r *Relay) Run(ctx context.Context) error {
	for {
		msg, err := r.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return oops.Code("RESET_RELAY").In("kafka").Wrapf(err, "fetch message")
		}

		var d domain.ResetDelivery
		if err := json.Unmarshal(msg.Value, &d); err != nil || d.Email == "" {
			r.logger.WarnContext(ctx, "skipping malformed reset delivery",
				"partition", msg.Partition, "offset", msg.Offset, "error", err)
			if err := r.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
				return oops.Code("RESET_RELAY").In("kafka").Wrapf(err, "commit offset %d", msg.Offset)
			}
			continue
		}

		err = retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
			if err := r.out.Deliver(ctx, d); err != nil {
				r.logger.WarnContext(ctx, "reset delivery attempt failed", "account_id", d.AccountID, "error", err)
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return oops.Code("RESET_RELAY").With("account_id", d.AccountID).Wrapf(err, "deliver offset %d", msg.Offset)
		}
		if err := r.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return oops.Code("RESET_RELAY").In("kafka").Wrapf(err, "commit offset %d", msg.Offset)
		}
		r.logger.DebugContext(ctx, "reset delivery relayed", "account_id", d.AccountID)
	}
}

// Close closes the reader and the outbound sink.
func (r *Relay) Close() error {
	return errors.Join(r.reader.Close(), r.out.Close())
}
