package finalizer

import (
	"context"

	"github.com/bookswap/exchange-validation-go/internal/kafka/consumer"
)

// KafkaHandler returns a consumer.Handler that feeds validation-result
// records to the finalizer and commits the offset whenever the decision is
// an ack. Requeued records are simply not committed, so the consumer group
// redelivers them.
func KafkaHandler(f *Finalizer, cons *consumer.Consumer) consumer.Handler {
	return func(ctx context.Context, rec *consumer.Record) error {
		if f == nil || rec == nil {
			return nil
		}

		if f.HandleResult(ctx, rec.Value) == DecisionRequeue {
			return nil
		}
		if cons == nil {
			return nil
		}
		return cons.Commit(ctx, rec)
	}
}
