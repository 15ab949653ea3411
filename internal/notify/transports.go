package notify

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogTransport is the development transport: it logs the payload instead of
// delivering it. Production deployments plug in real push/SMS providers
// behind the same Transport contract. Sender is the originating identity an
// SMS gateway attaches to outbound messages.
type LogTransport struct {
	Channel string
	Sender  string
}

func (t LogTransport) Send(_ context.Context, target, payload string) error {
	fields := logrus.Fields{
		"channel": t.Channel,
		"target":  target,
	}
	if t.Sender != "" {
		fields["sender"] = t.Sender
	}
	logrus.WithFields(fields).Info(payload)
	return nil
}
