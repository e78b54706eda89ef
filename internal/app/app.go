// Package app is the composition root: it wires the store, the ingest
// plane, the source registry, the RPC dispatcher and the transport, and
// owns their startup and shutdown order.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/vburojevic/uelog/internal/config"
	"github.com/vburojevic/uelog/internal/console"
	"github.com/vburojevic/uelog/internal/diag"
	"github.com/vburojevic/uelog/internal/ingest"
	"github.com/vburojevic/uelog/internal/mcp"
	"github.com/vburojevic/uelog/internal/source"
	"github.com/vburojevic/uelog/internal/sse"
	"github.com/vburojevic/uelog/internal/store"
)

const component = "App"

// App owns the assembled service.
type App struct {
	cfg      *config.Config
	store    *store.Store
	sources  *source.Manager
	receiver *ingest.Receiver
	server   *sse.Server
	console  *console.Writer
}

// New builds the service from cfg. The store is opened here; network
// listeners are not bound until Start.
func New(cfg *config.Config) (*App, error) {
	if cfg.LegacyConsole {
		diag.SetSink(diag.LegacySink{})
	}

	st, err := store.Open(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &App{
		cfg:      cfg,
		store:    st,
		sources:  source.NewManager(st),
		receiver: ingest.NewReceiver(st, cfg.UDPPort),
	}

	handler := mcp.NewHandler(st, a.sources)
	a.server = sse.NewServer(handler.Handle)
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		a.server.UseTLS(cfg.CertFile, cfg.KeyFile)
	}

	if !cfg.LegacyConsole {
		a.console = console.New(os.Stdout, st)
		st.Subscribe(a.console.HandleEntry)
	}

	return a, nil
}

// Start brings up the ingest plane and the transport. Configured file
// tails that cannot be opened are reported and skipped; they never
// prevent startup.
func (a *App) Start() error {
	if err := a.receiver.Start(); err != nil {
		a.store.Close()
		return err
	}

	for _, tail := range a.cfg.Tails {
		if _, err := a.sources.AddFile(tail.Path, tail.Name); err != nil {
			diag.Errorf(component, "Skipping tail %s: %v", tail.Path, err)
		}
	}

	if err := a.server.Start(a.cfg.HTTPPort); err != nil {
		a.sources.StopAll()
		a.receiver.Stop()
		a.store.Close()
		return err
	}

	if a.console != nil {
		a.console.Start()
	}

	diag.Logf(component, "uelog server ready (udp %d, http %d, db %s)",
		a.UDPPort(), a.HTTPPort(), a.cfg.DB)
	return nil
}

// Stop tears the service down: producers first, then the transport,
// then the store.
func (a *App) Stop() {
	a.sources.StopAll()
	a.receiver.Stop()
	a.server.Stop()
	if a.console != nil {
		a.console.Stop()
	}
	if err := a.store.Close(); err != nil {
		diag.Errorf(component, "Store close: %v", err)
	}
}

// Run starts the service and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(); err != nil {
		return err
	}
	defer a.Stop()

	<-ctx.Done()
	diag.Log(component, "Shutting down")
	return nil
}

// UDPPort reports the bound datagram port; differs from the configured
// one when that was 0.
func (a *App) UDPPort() int { return a.receiver.Port() }

// HTTPPort reports the bound transport port.
func (a *App) HTTPPort() int { return a.server.Port() }

// Store exposes the underlying store, for tests.
func (a *App) Store() *store.Store { return a.store }
