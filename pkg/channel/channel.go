package channel

import (
	"context"

	"qqbot/pkg/inbound"
	"qqbot/pkg/message"
)

// Handler processes one inbound message and returns the segments to reply
// with. A nil or empty reply sends nothing.
type Handler func(context.Context, *inbound.Message) ([]message.Segment, error)

// Adapter bridges one bot account into the process.
type Adapter interface {
	Name() string
	Run(context.Context, Handler) error
}
