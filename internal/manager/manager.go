// internal/manager/manager.go
package manager

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"form-relay/internal/api"
	"form-relay/internal/config"
	"form-relay/internal/messaging"
	"form-relay/internal/metrics"
	"form-relay/internal/relay"
	"form-relay/internal/static"
	"form-relay/internal/storage"
)

const queueDepthInterval = 10 * time.Second

// Manager owns the two halves of the pipeline. In "all" mode both run in
// one process but share nothing except the channel address.
type Manager struct {
	cfg  *config.Config
	mode string

	mu       sync.Mutex
	server   *http.Server
	metrics  *http.Server
	sender   messaging.Sender
	receiver messaging.Receiver
	store    storage.DocumentStore
	consumer *relay.Consumer
	// bound channel address, used by the sender when running both halves
	channelAddr string
	stopLoop context.CancelFunc
	wg       sync.WaitGroup
}

func NewManager(cfg *config.Config, mode string) *Manager {
	if mode == "" {
		mode = cfg.Mode
	}
	return &Manager{cfg: cfg, mode: mode}
}

func (m *Manager) runsRelay() bool   { return m.mode == config.ModeAll || m.mode == config.ModeRelay }
func (m *Manager) runsIngress() bool { return m.mode == config.ModeAll || m.mode == config.ModeIngress }

// Start brings up the relay first so the channel address is reserved before
// the ingress side can send to it. Components already started are shut
// down again if a later one fails.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	loopCtx, cancel := context.WithCancel(context.Background())
	m.stopLoop = cancel

	if m.cfg.Metrics.Addr != "" {
		if err := m.startMetrics(); err != nil {
			m.shutdownLocked(ctx)
			return err
		}
	}

	if m.runsRelay() {
		if err := m.startRelay(ctx, loopCtx); err != nil {
			m.shutdownLocked(ctx)
			return err
		}
	}
	if m.runsIngress() {
		if err := m.startIngress(); err != nil {
			m.shutdownLocked(ctx)
			return err
		}
	}
	return nil
}

func (m *Manager) startMetrics() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	m.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return m.serve("Metrics", m.metrics, m.cfg.Metrics.Addr)
}

func (m *Manager) startRelay(ctx, loopCtx context.Context) error {
	store, err := storage.Open(ctx, storage.Options{
		Driver:     m.cfg.Store.Driver,
		URI:        m.cfg.Store.URI,
		Database:   m.cfg.Store.Database,
		Collection: m.cfg.Store.Collection,
	})
	if err != nil {
		return fmt.Errorf("failed to init document store: %w", err)
	}
	m.store = store

	receiver, err := m.openReceiver(ctx, loopCtx)
	if err != nil {
		return err
	}
	m.receiver = receiver

	m.consumer = relay.NewConsumer(receiver, store,
		relay.WithInsertTimeout(m.cfg.Store.InsertTimeout),
		relay.WithDriverLabel(m.cfg.Store.Driver),
	)
	m.consumer.Start()
	log.Printf("[Relay] Started, persisting to %s", m.cfg.Store.Driver)
	return nil
}

func (m *Manager) openReceiver(ctx, loopCtx context.Context) (messaging.Receiver, error) {
	d := m.cfg.Datagram
	if d.Transport == "amqp" {
		rabbit, err := m.openRabbit()
		if err != nil {
			return nil, err
		}
		m.wg.Add(1)
		go m.watchQueueDepth(loopCtx, rabbit)
		return rabbit, nil
	}
	udp, err := messaging.ListenUDP(ctx, d.Address, d.MaxPacketSize, d.ReadBuffer)
	if err != nil {
		return nil, err
	}
	m.channelAddr = udp.Addr().String()
	return udp, nil
}

func (m *Manager) openSender() (messaging.Sender, error) {
	if m.cfg.Datagram.Transport == "amqp" {
		return m.openRabbit()
	}
	addr := m.cfg.Datagram.Address
	if m.channelAddr != "" {
		addr = m.channelAddr
	}
	return messaging.NewUDPSender(addr)
}

// openRabbit gives each half its own connection.
func (m *Manager) openRabbit() (*messaging.RabbitClient, error) {
	rabbit, err := messaging.NewRabbitClient(m.cfg.RabbitMQ.URL, m.cfg.RabbitMQ.Queue, m.cfg.Datagram.MaxPacketSize)
	if err != nil {
		return nil, err
	}
	if err := rabbit.DeclareQueue(m.cfg.RabbitMQ.MaxLength); err != nil {
		_ = rabbit.Close()
		return nil, err
	}
	return rabbit, nil
}

// watchQueueDepth polls the queue length into the queue_depth gauge.
func (m *Manager) watchQueueDepth(ctx context.Context, rabbit *messaging.RabbitClient) {
	defer m.wg.Done()
	ticker := time.NewTicker(queueDepthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rabbit.UpdateQueueDepth()
		}
	}
}

func (m *Manager) startIngress() error {
	sender, err := m.openSender()
	if err != nil {
		return fmt.Errorf("failed to open datagram sender: %w", err)
	}
	m.sender = sender

	apiHandler := api.NewAPI(sender, static.Dir(m.cfg.Static.Dir), m.cfg.HTTP.MaxBodyBytes)
	m.server = &http.Server{
		Handler:           apiHandler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		// bounds the wait for a body shorter than its Content-Length
		ReadTimeout: 10 * time.Second,
	}
	return m.serve("Ingress", m.server, m.cfg.HTTPAddr())
}

// serve binds synchronously so a taken port fails Start instead of a
// background goroutine.
func (m *Manager) serve(name string, server *http.Server, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%s listen on %s: %w", strings.ToLower(name), addr, err)
	}
	server.Addr = ln.Addr().String()
	log.Printf("[%s] Starting HTTP server on %s", name, server.Addr)

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[%s] Server error: %v", name, err)
		}
	}()
	return nil
}

// IngressAddr is the bound HTTP address, empty when ingress is not running.
func (m *Manager) IngressAddr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server == nil {
		return ""
	}
	return m.server.Addr
}

// ShutdownAll stops the HTTP side first, then lets the consumer finish the
// message in hand before closing the channel and the store.
func (m *Manager) ShutdownAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownLocked(ctx)
}

func (m *Manager) shutdownLocked(ctx context.Context) {
	if m.server != nil {
		if err := m.server.Shutdown(ctx); err != nil {
			log.Printf("HTTP shutdown error: %v", err)
		}
		m.server = nil
	}
	if m.sender != nil {
		_ = m.sender.Close()
		m.sender = nil
	}
	if m.consumer != nil {
		m.consumer.Stop()
		m.consumer = nil
	}
	if m.stopLoop != nil {
		m.stopLoop()
		m.wg.Wait()
		m.stopLoop = nil
	}
	if m.receiver != nil {
		_ = m.receiver.Close()
		m.receiver = nil
	}
	if m.store != nil {
		if err := m.store.Close(ctx); err != nil {
			log.Printf("[Store] Close error: %v", err)
		}
		m.store = nil
	}
	if m.metrics != nil {
		_ = m.metrics.Shutdown(ctx)
		m.metrics = nil
	}
}
