package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
)

type natsConn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes each event on <prefix>.<type>, e.g.
// drivuber.events.ride.booked.
type NATSPublisher struct {
	conn   natsConn
	nc     *nats.Conn
	prefix string
}

func NewNATSPublisher(url, prefix string, logger *slog.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("drivuber"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: nc, nc: nc, prefix: prefix}, nil
}

func (p *NATSPublisher) Subject(t Type) string {
	return subjectToken(p.prefix) + "." + string(t)
}

func (p *NATSPublisher) Publish(_ context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.conn.Publish(p.Subject(e.Type), b)
}

func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}

func subjectToken(s string) string {
	s = strings.Trim(strings.TrimSpace(s), ".")
	// NATS tokens cannot contain spaces or wildcards
	s = strings.NewReplacer(" ", "_", ">", "_", "*", "_", "/", "_", "\t", "_").Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
