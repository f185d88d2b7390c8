package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gftdcojp/doc-tiering/internal/config"
	"github.com/gftdcojp/doc-tiering/internal/lifecycle"
	"github.com/gftdcojp/doc-tiering/internal/meta"
	"github.com/gftdcojp/doc-tiering/internal/types"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// passRequest is the optional payload of {prefix}.pass.run.
type passRequest struct {
	Now time.Time `json:"now"`
}

// statsRequest is the payload of {prefix}.stats.get. A bare document name is
// accepted as well.
type statsRequest struct {
	Name string `json:"name"`
}

// RunNATSResponder serves request-reply subjects:
//
//	{prefix}.pass.run   run a pass, reply with the report
//	{prefix}.stats.get  reply with a document's access stats
func RunNATSResponder(ctx context.Context, nc *nats.Conn, cfg config.NATSResponderConfig, runner *lifecycle.Runner, metaStore meta.Store, logger *zap.Logger) error {
	prefix := strings.TrimSuffix(cfg.SubjectPrefix, ".")
	if prefix == "" {
		prefix = "tiering"
	}
	logger = logger.Named("responder")

	passSub, err := nc.Subscribe(prefix+".pass.run", func(msg *nats.Msg) {
		var req passRequest
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				respondError(msg, fmt.Errorf("invalid request: %w", err))
				return
			}
		}
		if req.Now.IsZero() {
			req.Now = time.Now()
		}
		rep, err := runner.RunPass(ctx, req.Now, lifecycle.TriggerNATS)
		if err != nil {
			logger.Warn("NATS pass did not complete", zap.Error(err))
			respond(msg, map[string]interface{}{"error": err.Error(), "report": rep})
			return
		}
		respond(msg, rep)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s.pass.run: %w", prefix, err)
	}
	defer passSub.Unsubscribe()

	statsSub, err := nc.Subscribe(prefix+".stats.get", func(msg *nats.Msg) {
		name := strings.TrimSpace(string(msg.Data))
		if strings.HasPrefix(name, "{") {
			var req statsRequest
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				respondError(msg, fmt.Errorf("invalid request: %w", err))
				return
			}
			name = req.Name
		}
		if name == "" {
			respondError(msg, errors.New("missing document name"))
			return
		}
		entry, err := metaStore.GetDocument(ctx, name)
		if err != nil {
			if !errors.Is(err, types.ErrNoStats) {
				logger.Warn("stats lookup failed", zap.String("document", name), zap.Error(err))
			}
			respondError(msg, err)
			return
		}
		respond(msg, viewOf(entry, time.Now()))
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s.stats.get: %w", prefix, err)
	}
	defer statsSub.Unsubscribe()

	logger.Info("NATS responder started", zap.String("prefix", prefix))

	<-ctx.Done()
	return nil
}

func respond(msg *nats.Msg, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		respondError(msg, err)
		return
	}
	msg.Respond(data)
}

func respondError(msg *nats.Msg, err error) {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	msg.Respond(data)
}
