package consumer

import (
	"context"
)

// MessageConsumer feeds queued derivative and delete requests into the
// image storage until stopped.
type MessageConsumer interface {
	Start(ctx context.Context) error

	Stop()
}

var _ MessageConsumer = (*AMQPConsumer)(nil)
