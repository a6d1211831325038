package sink

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/trakrf/platform-sub018/internal/cs108"
)

const DefaultNATSSubject = "cs108.events"

var ErrInvalidSubject = errors.New("invalid NATS subject")

// Publisher is the part of *nats.Conn the NATS sink uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSOptions configures a NATSPublisher.
type NATSOptions struct {
	URL string
	// Subject is the prefix; the event kind is appended, e.g. cs108.events.inventory.
	Subject string
	Name    string
	Clock   func() time.Time
}

// NATSPublisher forwards events as JSON records, one message per event.
type NATSPublisher struct {
	pub     Publisher
	conn    *nats.Conn
	subject string
	clock   func() time.Time
	logger  *logrus.Logger

	published atomic.Int64
	failed    atomic.Int64
}

// DialNATS connects to the server at opts.URL.
func DialNATS(opts NATSOptions, logger *logrus.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.URL == "" {
		opts.URL = nats.DefaultURL
	}
	if opts.Name == "" {
		opts.Name = "cs108ctl"
	}

	conn, err := nats.Connect(opts.URL,
		nats.Name(opts.Name),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.WithError(err).Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.WithField("url", c.ConnectedUrl()).Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", opts.URL, err)
	}

	p, err := NewNATSPublisher(conn, opts, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	logger.WithFields(logrus.Fields{
		"url":     conn.ConnectedUrl(),
		"subject": p.subject,
	}).Info("Connected to NATS")
	return p, nil
}

// NewNATSPublisher publishes through an existing connection.
func NewNATSPublisher(pub Publisher, opts NATSOptions, logger *logrus.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = logrus.New()
	}
	subject := strings.Trim(opts.Subject, ".")
	if subject == "" {
		subject = DefaultNATSSubject
	}
	if strings.ContainsAny(subject, " \t*>") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSubject, opts.Subject)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &NATSPublisher{
		pub:     pub,
		subject: subject,
		clock:   opts.Clock,
		logger:  logger,
	}, nil
}

// Subject returns the subject events of kind k are published on.
func (p *NATSPublisher) Subject(k cs108.Kind) string {
	return p.subject + "." + k.String()
}

func (p *NATSPublisher) Write(events []cs108.Event) error {
	now := p.clock()
	var errs []error
	for _, ev := range events {
		data, err := json.Marshal(NewRecord(ev, now))
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to encode %s event: %w", ev.Kind(), err))
			p.failed.Add(1)
			continue
		}
		subject := p.Subject(ev.Kind())
		if err := p.pub.Publish(subject, data); err != nil {
			p.failed.Add(1)
			p.logger.WithError(err).WithField("subject", subject).Debug("Publish failed")
			errs = append(errs, fmt.Errorf("failed to publish to %s: %w", subject, err))
			continue
		}
		p.published.Add(1)
	}
	return errors.Join(errs...)
}

// Stats returns the number of published and failed messages.
func (p *NATSPublisher) Stats() (published, failed int64) {
	return p.published.Load(), p.failed.Load()
}

// Close drains the connection when the publisher owns it.
func (p *NATSPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	return nil
}
