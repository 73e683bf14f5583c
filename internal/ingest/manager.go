package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/hbastian/fieldline-core/internal/connector"
)

// Manager owns one worker per active connector. It scans the
// connector table periodically and starts, keeps or stops workers so
// the running set always mirrors the active set: activating a
// connector spawns its worker within one scan interval, deactivating
// or deleting one shuts its worker down.
type Manager struct {
	env        Env
	connectors connector.Repository

	mu      sync.Mutex
	running map[string]*managedWorker
	wg      sync.WaitGroup
}

// managedWorker is one running worker and its cancel handle.
type managedWorker struct {
	cancel    context.CancelFunc
	transport connector.Transport
}

// NewManager creates an ingestion manager.
func NewManager(env Env, connectors connector.Repository) *Manager {
	return &Manager{
		env:        env,
		connectors: connectors,
		running:    make(map[string]*managedWorker),
	}
}

// Run scans and supervises workers until the context is cancelled,
// then stops every worker and waits for them to finish.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.scan(ctx); err != nil {
		m.env.Log.Error("initial connector scan failed", "error", err)
	}

	scan := newResyncTicker(m.env.Ingest.ResyncInterval)
	defer scan.Stop()

	for {
		select {
		case <-ctx.Done():
			m.stopAll()
			m.wg.Wait()
			return nil
		case <-scan.C:
			if err := m.scan(ctx); err != nil {
				m.env.Log.Warn("connector scan failed", "error", err)
			}
		}
	}
}

// scan diffs the active connector set against running workers.
func (m *Manager) scan(ctx context.Context) error {
	active, err := m.connectors.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("listing active connectors: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	want := make(map[string]connector.Connector, len(active))
	for _, c := range active {
		want[c.ID] = c
	}

	// Stop workers whose connector went away or changed transport.
	for id, w := range m.running {
		c, stillActive := want[id]
		if stillActive && c.Transport == w.transport {
			continue
		}
		w.cancel()
		delete(m.running, id)
		m.env.Log.Info("worker stopped", "connector", id)
	}

	// Start workers for newly active connectors.
	for id, c := range want {
		if _, ok := m.running[id]; ok {
			continue
		}
		m.startLocked(ctx, c)
	}

	return nil
}

// startLocked launches a worker for a connector. Caller holds m.mu.
func (m *Manager) startLocked(ctx context.Context, c connector.Connector) {
	var r runner
	switch c.Transport {
	case connector.TransportMQTT:
		r = newMQTTWorker(m.env, c)
	case connector.TransportModbus:
		r = newModbusWorker(m.env, c)
	default:
		r = newIdleWorker(m.env, c)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	m.running[c.ID] = &managedWorker{cancel: cancel, transport: c.Transport}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		r.Run(workerCtx)
	}()

	m.env.Log.Info("worker started",
		"connector", c.ID, "name", c.Name, "transport", string(c.Transport))
}

// stopAll cancels every running worker.
func (m *Manager) stopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, w := range m.running {
		w.cancel()
		delete(m.running, id)
	}
}

// WorkerCount returns the number of running workers, for health
// reporting and tests.
func (m *Manager) WorkerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}
