package main

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"

	"github.com/sayboard/sayboard/internal/api"
	"github.com/sayboard/sayboard/internal/config"
	"github.com/sayboard/sayboard/internal/creds"
	"github.com/sayboard/sayboard/internal/events"
	"github.com/sayboard/sayboard/internal/logging"
	"github.com/sayboard/sayboard/internal/store"
)

// app bundles the shared pieces every command needs: config, logging sink,
// open store, credential store, API client, and event bus.
type app struct {
	cfg    *config.Config
	sink   *logging.Sink
	store  *store.Store
	creds  *creds.Store
	client *api.Client
	bus    *events.Bus
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	sink := logging.NewSink(cfg.LogFile)

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		sink.Close()
		return nil, err
	}
	if err := st.InitSchema(ctx); err != nil {
		st.Close()
		sink.Close()
		return nil, err
	}

	credStore := creds.NewStore(cfg.DataDir)
	client := api.NewClient(cfg.ServerURL, credStore,
		api.WithRequestTimeout(cfg.RequestTimeout))

	return &app{
		cfg:    cfg,
		sink:   sink,
		store:  st,
		creds:  credStore,
		client: client,
		bus:    events.NewBus(sink.Component("events")),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close store: %v\n", err)
	}
	_ = a.sink.Close()
}

// probeAddr derives the host:port the reachability prober dials from the
// server URL.
func probeAddr(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse server url: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("server url %q has no host", serverURL)
	}
	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	return net.JoinHostPort(host, port), nil
}
