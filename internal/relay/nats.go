// Package relay mirrors committed room broadcasts onto a NATS subject tree so
// consumers outside this process can follow routes.
package relay

import (
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"bus_tracker/internal/events"
)

type Metrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	NATSSetConnected(connected bool)
}

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSRelay publishes every mirrored event to <prefix>.<routeId>.<event>.
type NATSRelay struct {
	nc      *nats.Conn
	pub     publisher
	prefix  string
	metrics Metrics
}

func NewNATSRelay(url, prefix string, m Metrics) (*NATSRelay, error) {
	nc, err := nats.Connect(url,
		nats.Name("bus-tracker"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logrus.WithError(err).Warn("NATS disconnected.")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logrus.Info("NATS reconnected.")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logrus.Info("NATS connection closed.")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	r := newRelay(nc, prefix, m)
	r.nc = nc
	return r, nil
}

func newRelay(p publisher, prefix string, m Metrics) *NATSRelay {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "routes"
	}
	return &NATSRelay{pub: p, prefix: prefix, metrics: m}
}

// Mirror publishes ev. Failures are logged and counted, never returned:
// the local broadcast has already happened.
func (r *NATSRelay) Mirror(ev events.Outbound) {
	subject := Subject(r.prefix, ev.Route(), ev.EventName())
	b, err := events.Marshal(ev)
	if err == nil {
		err = r.pub.Publish(subject, b)
	}
	if err != nil {
		logrus.WithError(err).WithField("subject", subject).Warn("Failed to mirror event to NATS.")
		if r.metrics != nil {
			r.metrics.NATSPublishErrInc()
		}
		return
	}
	if r.metrics != nil {
		r.metrics.NATSPublishedInc()
	}
}

// Close drains pending publishes and closes the connection.
func (r *NATSRelay) Close() {
	if r.nc != nil {
		if err := r.nc.Drain(); err != nil {
			logrus.WithError(err).Warn("NATS drain failed.")
		}
		r.nc.Close()
	}
}

// Subject builds <prefix>.<routeId>.<event> with each token made NATS-safe.
func Subject(prefix, routeID, event string) string {
	return prefix + "." + subjectToken(routeID) + "." + subjectToken(event)
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS tokens cannot contain whitespace, '.', '*' or '>'.
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
