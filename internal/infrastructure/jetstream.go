package infrastructure

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/krobus00/broker-gateway/internal/config"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const (
	defaultNatsMaxRetries      = 10
	defaultNatsBackoffFactor   = 2.0
	defaultNatsMinJitter       = 100 * time.Millisecond
	defaultNatsMaxJitter       = 2 * time.Second
	defaultNatsConnectTimeout  = 5 * time.Second
	defaultNatsDrainTimeout    = 10 * time.Second
	defaultNatsPingInterval    = 30 * time.Second
	defaultNatsPingOutstanding = 3
	defaultJetStreamMaxWait    = 5 * time.Second
)

type jetstreamOptions struct {
	url           string
	maxRetries    int
	backoffFactor float64
	minJitter     time.Duration
	maxJitter     time.Duration
}

func resolveJetstreamOptions(cfg config.NatsJetstreamConfig) (jetstreamOptions, error) {
	opts := jetstreamOptions{
		url:           strings.TrimSpace(cfg.URL),
		maxRetries:    cfg.MaxRetries,
		backoffFactor: cfg.ReconnectFactor,
		minJitter:     cfg.MinJitter,
		maxJitter:     cfg.MaxJitter,
	}
	if opts.url == "" {
		return opts, errors.New("nats jetstream url is required")
	}
	if opts.maxRetries <= 0 {
		opts.maxRetries = defaultNatsMaxRetries
	}
	if opts.backoffFactor < 1 {
		opts.backoffFactor = defaultNatsBackoffFactor
	}
	if opts.minJitter <= 0 {
		opts.minJitter = defaultNatsMinJitter
	}
	if opts.maxJitter <= 0 {
		opts.maxJitter = defaultNatsMaxJitter
	}
	if opts.maxJitter < opts.minJitter {
		opts.maxJitter = opts.minJitter
	}
	return opts, nil
}

// NewJetstream connects to NATS and returns a JetStream context for the
// order event stream.
func NewJetstream(cfg config.NatsJetstreamConfig) (nc *nats.Conn, js nats.JetStreamContext, err error) {
	opts, err := resolveJetstreamOptions(cfg)
	if err != nil {
		return nil, nil, err
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	nc, err = nats.Connect(opts.url,
		nats.Name(config.ServiceName),
		nats.Timeout(defaultNatsConnectTimeout),
		nats.DrainTimeout(defaultNatsDrainTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(opts.maxRetries),
		nats.PingInterval(defaultNatsPingInterval),
		nats.MaxPingsOutstanding(defaultNatsPingOutstanding),
		nats.CustomReconnectDelay(func(attempts int) time.Duration {
			return backoffWithJitter(attempts, opts.backoffFactor, opts.minJitter, opts.maxJitter, rng)
		}),
		nats.DisconnectErrHandler(func(conn *nats.Conn, disErr error) {
			logrus.WithError(disErr).Warn("order event connection lost")
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logrus.WithField("url", conn.ConnectedUrl()).Info("order event connection restored")
		}),
		nats.ClosedHandler(func(conn *nats.Conn) {
			logrus.WithError(conn.LastError()).Warn("order event connection closed")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err = nc.JetStream(
		nats.PublishAsyncMaxPending(256),
		nats.MaxWait(defaultJetStreamMaxWait),
	)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"url":         opts.url,
		"max_retries": opts.maxRetries,
	}).Info("order event stream connected")

	return nc, js, nil
}

func CloseJetstream(nc *nats.Conn) error {
	if nc == nil {
		return nil
	}

	if err := nc.Drain(); err != nil {
		nc.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}

	nc.Close()
	return nil
}
