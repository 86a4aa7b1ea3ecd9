// Package notify delivers administrative notifications. Delivery is
// advisory: callers bound every Send with a timeout and log failures.
package notify

import (
	"context"
	"errors"
)

type Channel interface {
	Send(ctx context.Context, text string) error
}

// Noop discards every notification.
type Noop struct{}

func (Noop) Send(context.Context, string) error { return nil }

// Fanout sends to every channel and joins their errors.
type Fanout []Channel

func (f Fanout) Send(ctx context.Context, text string) error {
	var errs []error
	for _, ch := range f {
		if err := ch.Send(ctx, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Combine returns the cheapest Channel covering channels: Noop for none,
// the channel itself for one, a Fanout otherwise.
func Combine(channels ...Channel) Channel {
	switch len(channels) {
	case 0:
		return Noop{}
	case 1:
		return channels[0]
	}
	return Fanout(channels)
}
