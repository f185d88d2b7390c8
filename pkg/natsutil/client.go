// Package natsutil connects to NATS for the access consumer and the API
// responder.
package natsutil

import (
	"fmt"
	"time"

	"github.com/gftdcojp/doc-tiering/internal/config"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Access events published by the service itself while disconnected are
// buffered up to this size.
const reconnectBufSize = 8 * 1024 * 1024

// Options builds the connection options for cfg: auth (credentials file or
// NKey seed), TLS, reconnect policy and logging hooks.
func Options(cfg config.NATSConfig, logger *zap.Logger) ([]nats.Option, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := cfg.ConnectionName
	if name == "" {
		name = "doc-tiering"
	}
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectBufSize(reconnectBufSize),
		nats.PingInterval(20 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected, access events will be buffered", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS async error", zap.String("subject", subject), zap.Error(err))
		}),
	}
	if wait := cfg.ReconnectWait.Duration(); wait > 0 {
		opts = append(opts, nats.ReconnectWait(wait))
	}

	switch {
	case cfg.CredentialsFile != "" && cfg.NKeySeedFile != "":
		return nil, fmt.Errorf("nats: credentials_file and nkey_seed_file are mutually exclusive")
	case cfg.CredentialsFile != "":
		opts = append(opts, nats.UserCredentials(cfg.CredentialsFile))
	case cfg.NKeySeedFile != "":
		opt, err := nats.NkeyOptionFromSeed(cfg.NKeySeedFile)
		if err != nil {
			return nil, fmt.Errorf("loading nkey seed: %w", err)
		}
		opts = append(opts, opt)
	}

	if (cfg.TLS.CertFile == "") != (cfg.TLS.KeyFile == "") {
		return nil, fmt.Errorf("nats: tls cert_file and key_file must be set together")
	}
	if cfg.TLS.CertFile != "" {
		opts = append(opts, nats.ClientCert(cfg.TLS.CertFile, cfg.TLS.KeyFile))
	}
	if cfg.TLS.CAFile != "" {
		opts = append(opts, nats.RootCAs(cfg.TLS.CAFile))
	}
	return opts, nil
}

// Connect dials cfg.URL.
func Connect(cfg config.NATSConfig, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts, err := Options(cfg, logger)
	if err != nil {
		return nil, err
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.URL, err)
	}
	logger.Info("connected to NATS",
		zap.String("url", nc.ConnectedUrl()),
		zap.String("server_id", nc.ConnectedServerId()),
	)
	return nc, nil
}

// Drain flushes pending replies and access events and closes nc, giving up
// after timeout.
func Drain(nc *nats.Conn, timeout time.Duration) error {
	if nc == nil || nc.IsClosed() {
		return nil
	}
	closed := make(chan struct{})
	nc.SetClosedHandler(func(*nats.Conn) { close(closed) })
	if err := nc.Drain(); err != nil {
		nc.Close()
		return fmt.Errorf("draining NATS connection: %w", err)
	}
	select {
	case <-closed:
		return nil
	case <-time.After(timeout):
		nc.Close()
		return fmt.Errorf("draining NATS connection: timed out after %s", timeout)
	}
}
