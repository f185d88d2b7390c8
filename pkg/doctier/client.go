package doctier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Common access kinds. Any token without dots or wildcards is accepted.
const (
	KindUpload = "upload"
	KindRead   = "read"
)

// Config configures the client.
type Config struct {
	// NC is the NATS connection.
	NC *nats.Conn

	// AccessPrefix is the subject prefix for access events.
	// Defaults to "docs.access".
	AccessPrefix string

	// APIPrefix is the prefix of the service's request-reply subjects.
	// Defaults to "tiering".
	APIPrefix string

	// Timeout for requests without a context deadline. Defaults to 5s.
	Timeout time.Duration
}

// Client reports document accesses and queries the doc-tiering service.
type Client struct {
	nc           *nats.Conn
	accessPrefix string
	apiPrefix    string
	timeout      time.Duration
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.NC == nil {
		return nil, fmt.Errorf("doctier: NC (NATS connection) is required")
	}
	c := &Client{
		nc:           cfg.NC,
		accessPrefix: strings.TrimSuffix(cfg.AccessPrefix, "."),
		apiPrefix:    strings.TrimSuffix(cfg.APIPrefix, "."),
		timeout:      cfg.Timeout,
	}
	if c.accessPrefix == "" {
		c.accessPrefix = "docs.access"
	}
	if c.apiPrefix == "" {
		c.apiPrefix = "tiering"
	}
	if c.timeout == 0 {
		c.timeout = 5 * time.Second
	}
	return c, nil
}

type accessEvent struct {
	Name string    `json:"name"`
	Kind string    `json:"kind"`
	At   time.Time `json:"at"`
}

func (c *Client) accessSubject(kind string) (string, error) {
	if kind == "" || strings.ContainsAny(kind, ".*> \t") {
		return "", fmt.Errorf("doctier: invalid access kind %q", kind)
	}
	return c.accessPrefix + "." + kind, nil
}

func (c *Client) event(name, kind string) (string, []byte, error) {
	if name == "" {
		return "", nil, fmt.Errorf("doctier: document name is required")
	}
	subject, err := c.accessSubject(kind)
	if err != nil {
		return "", nil, err
	}
	data, err := json.Marshal(accessEvent{Name: name, Kind: kind, At: time.Now().UTC()})
	return subject, data, err
}

// Touch publishes an access event without waiting for the service.
func (c *Client) Touch(_ context.Context, name, kind string) error {
	subject, data, err := c.event(name, kind)
	if err != nil {
		return err
	}
	if err := c.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("doctier: publishing access event: %w", err)
	}
	return nil
}

// TouchSync records an access and waits until the service has stored it. It
// returns the document's access count.
func (c *Client) TouchSync(ctx context.Context, name, kind string) (int64, error) {
	subject, data, err := c.event(name, kind)
	if err != nil {
		return 0, err
	}
	var reply struct {
		OK          bool   `json:"ok"`
		AccessCount int64  `json:"access_count"`
		Error       string `json:"error"`
	}
	if err := c.request(ctx, subject, data, &reply); err != nil {
		return 0, err
	}
	if !reply.OK {
		return 0, remoteError(subject, reply.Error)
	}
	return reply.AccessCount, nil
}

// DocumentStats is the service's view of one document.
type DocumentStats struct {
	Name                string           `json:"name"`
	AccessCount         int64            `json:"access_count"`
	Kinds               map[string]int64 `json:"kinds"`
	FirstSeenAt         time.Time        `json:"first_seen_at"`
	LastAccessedAt      time.Time        `json:"last_accessed_at"`
	DaysSinceLastAccess int              `json:"days_since_last_access"`
	Tier                string           `json:"tier"`
	TierChangedAt       time.Time        `json:"tier_changed_at"`
}

// Stats fetches a document's access stats.
func (c *Client) Stats(ctx context.Context, name string) (*DocumentStats, error) {
	req, _ := json.Marshal(map[string]string{"name": name})
	var reply struct {
		DocumentStats
		Error string `json:"error"`
	}
	subject := c.apiPrefix + ".stats.get"
	if err := c.request(ctx, subject, req, &reply); err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return nil, remoteError(subject, reply.Error)
	}
	return &reply.DocumentStats, nil
}

// Move is one document moved between tiers by a pass.
type Move struct {
	Name    string `json:"name"`
	From    string `json:"from"`
	To      string `json:"to"`
	Reason  string `json:"reason"`
	Partial bool   `json:"partial"`
}

// PassReport summarizes a tiering pass.
type PassReport struct {
	ID         string    `json:"id"`
	Trigger    string    `json:"trigger"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Moved      []Move    `json:"moved"`
	Archived   []Move    `json:"archived"`
	Deleted    []string  `json:"deleted"`
	Reconciled []struct {
		Name   string `json:"name"`
		Tier   string `json:"tier"`
		Reason string `json:"reason"`
	} `json:"reconciled"`
	Skipped []struct {
		Name   string `json:"name"`
		Reason string `json:"reason"`
	} `json:"skipped"`
	Errors []struct {
		Name      string `json:"name"`
		Operation string `json:"operation"`
		Error     string `json:"error"`
	} `json:"errors"`
	Kept        int  `json:"kept"`
	Interrupted bool `json:"interrupted"`
}

// RunPass asks the service to run a tiering pass evaluated at now (zero means
// the service's clock) and returns its report. A pass that was interrupted
// returns the partial report together with an error.
func (c *Client) RunPass(ctx context.Context, now time.Time) (*PassReport, error) {
	var req []byte
	if !now.IsZero() {
		req, _ = json.Marshal(map[string]time.Time{"now": now})
	}
	subject := c.apiPrefix + ".pass.run"

	var raw json.RawMessage
	if err := c.request(ctx, subject, req, &raw); err != nil {
		return nil, err
	}
	var failed struct {
		Error  string      `json:"error"`
		Report *PassReport `json:"report"`
	}
	if err := json.Unmarshal(raw, &failed); err == nil && failed.Error != "" {
		return failed.Report, remoteError(subject, failed.Error)
	}
	var rep PassReport
	if err := json.Unmarshal(raw, &rep); err != nil {
		return nil, fmt.Errorf("doctier: decoding pass report: %w", err)
	}
	return &rep, nil
}

func (c *Client) request(ctx context.Context, subject string, data []byte, out interface{}) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	msg, err := c.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("doctier: request %s: %w", subject, err)
	}
	if err := json.Unmarshal(msg.Data, out); err != nil {
		return fmt.Errorf("doctier: decoding %s reply: %w", subject, err)
	}
	return nil
}
