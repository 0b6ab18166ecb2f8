package interfaces

import (
	"context"

	"queue-sync/src/models"
)

// -----------------------------------------------------------------------------
// IChannel is one open bidirectional connection to a (business, date) topic.
// ReadMessage is called from a single goroutine; WriteMessage from one
// goroutine at a time. Close unblocks a pending ReadMessage.
// -----------------------------------------------------------------------------

type IChannel interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// -----------------------------------------------------------------------------
// IChannelDialer opens channels. Dial must return promptly once ctx is done.
// -----------------------------------------------------------------------------

type IChannelDialer interface {
	Dial(ctx context.Context, key models.MTopicKey) (IChannel, error)
}

// -----------------------------------------------------------------------------
// IMessageSink receives every inbound message the manager does not handle
// itself, in arrival order, tagged with the key of the channel it came from.
// -----------------------------------------------------------------------------

type IMessageSink interface {
	HandleMessage(key models.MTopicKey, msg models.MChannelMessage)
}
