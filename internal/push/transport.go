package push

import (
	"context"
	"errors"
)

// ErrSubscriptionClosed is returned by Subscription.Receive once the
// subscription or its session has ended.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Dialer opens push sessions. Dial returns once the session is ready to
// accept subscriptions and must give up when ctx is cancelled.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// Session is one established push connection.
type Session interface {
	Subscribe(destination string) (Subscription, error)
	// Done is closed when the session is lost or closed.
	Done() <-chan struct{}
	// Err returns the reason the session ended, nil while it is alive or
	// after a local Close.
	Err() error
	Close() error
}

// Message is one pushed payload.
type Message struct {
	Destination string
	Body        []byte
}

// Subscription is a stream of messages from one destination.
type Subscription interface {
	Destination() string
	// Receive blocks for the next message. It returns ErrSubscriptionClosed,
	// or the transport error, once no more messages will arrive.
	Receive() (Message, error)
	Unsubscribe() error
}
