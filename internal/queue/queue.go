package queue

import "context"

// Publisher publishes transmission messages to the work queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg TransmissionMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg TransmissionMessage) error

// Consumer consumes transmission messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	// TransmissionQueue is the single work queue for submissions and retries.
	TransmissionQueue = "transmissions"

	// TransmissionDLQ receives messages rejected as unprocessable.
	TransmissionDLQ = "dlq.transmissions"

	// queueMaxPriority is the RabbitMQ x-max-priority value for the work queue.
	queueMaxPriority int32 = 3
)
