// Package access records document touches (uploads, reads) into the access
// stats store. Events arrive over NATS or through the HTTP API.
package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gftdcojp/doc-tiering/internal/meta"
	"github.com/gftdcojp/doc-tiering/internal/metrics"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Event sources, used as the metrics label.
const (
	SourceNATS = "nats"
	SourceHTTP = "http"
)

// ErrInvalidEvent is returned for events without a document name.
var ErrInvalidEvent = errors.New("invalid access event")

// Event is one access of a document. Kind is free-form ("upload", "read").
// A zero At means now.
type Event struct {
	Name string    `json:"name"`
	Kind string    `json:"kind,omitempty"`
	At   time.Time `json:"at,omitempty"`
}

// Recorder persists touches. meta.BoltStore implements it.
type Recorder interface {
	Touch(ctx context.Context, name, kind string, at time.Time) (*meta.DocumentEntry, error)
}

// Record validates ev and stores it.
func Record(ctx context.Context, rec Recorder, ev Event, source string) (*meta.DocumentEntry, error) {
	if ev.Name == "" {
		metrics.AccessEventErrors.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: missing name", ErrInvalidEvent)
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if ev.Kind == "" {
		ev.Kind = "read"
	}
	entry, err := rec.Touch(ctx, ev.Name, ev.Kind, ev.At)
	if err != nil {
		metrics.AccessEventErrors.WithLabelValues("store").Inc()
		return nil, fmt.Errorf("recording access to %s: %w", ev.Name, err)
	}
	metrics.AccessEvents.WithLabelValues(ev.Kind, source).Inc()
	return entry, nil
}

type ConsumerConfig struct {
	Conn          *nats.Conn
	Recorder      Recorder
	SubjectPrefix string
	QueueGroup    string
	Logger        *zap.Logger
}

// Consumer subscribes to <prefix>.> in a queue group so several replicas
// share the event stream. The last subject token is the default kind.
type Consumer struct {
	nc     *nats.Conn
	rec    Recorder
	prefix string
	queue  string
	logger *zap.Logger
}

func NewConsumer(cfg ConsumerConfig) *Consumer {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		nc:     cfg.Conn,
		rec:    cfg.Recorder,
		prefix: strings.TrimSuffix(cfg.SubjectPrefix, "."),
		queue:  cfg.QueueGroup,
		logger: logger.Named("access"),
	}
}

type reply struct {
	OK          bool   `json:"ok"`
	AccessCount int64  `json:"access_count,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Run subscribes and blocks until ctx is done, then drains the subscription.
func (c *Consumer) Run(ctx context.Context) error {
	subject := c.prefix + ".>"
	sub, err := c.nc.QueueSubscribe(subject, c.queue, func(msg *nats.Msg) {
		c.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	c.logger.Info("access consumer started",
		zap.String("subject", subject),
		zap.String("queue", c.queue),
	)

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		c.logger.Warn("draining access subscription", zap.Error(err))
	}
	return nil
}

func (c *Consumer) handle(ctx context.Context, msg *nats.Msg) {
	var ev Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		metrics.AccessEventErrors.WithLabelValues("decode").Inc()
		c.logger.Warn("dropping undecodable access event",
			zap.String("subject", msg.Subject),
			zap.Error(err),
		)
		c.respond(msg, reply{Error: err.Error()})
		return
	}
	if ev.Kind == "" {
		ev.Kind = c.kindFromSubject(msg.Subject)
	}

	entry, err := Record(ctx, c.rec, ev, SourceNATS)
	if err != nil {
		c.logger.Warn("access event not recorded",
			zap.String("document", ev.Name),
			zap.Error(err),
		)
		c.respond(msg, reply{Error: err.Error()})
		return
	}
	c.respond(msg, reply{OK: true, AccessCount: entry.AccessCount})
}

func (c *Consumer) kindFromSubject(subject string) string {
	rest := strings.TrimPrefix(subject, c.prefix+".")
	if i := strings.LastIndexByte(rest, '.'); i >= 0 {
		rest = rest[i+1:]
	}
	return rest
}

func (c *Consumer) respond(msg *nats.Msg, r reply) {
	if msg.Reply == "" {
		return
	}
	data, _ := json.Marshal(r)
	if err := msg.Respond(data); err != nil {
		c.logger.Debug("access reply failed", zap.Error(err))
	}
}
