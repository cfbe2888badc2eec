// shared/mongodb/manager.go
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/yakrealms/yak-services/shared/config"
)

// State describes the connection lifecycle of a Manager.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateShuttingDown:
		return "SHUTTING_DOWN"
	default:
		return "UNKNOWN"
	}
}

// Sentinel errors returned by the manager. Raw driver errors never cross this
// boundary untranslated; callers use errors.Is against these.
var (
	ErrNotConnected     = errors.New("mongodb: not connected")
	ErrOperationFailed  = errors.New("mongodb: operation failed")
	ErrShuttingDown     = errors.New("mongodb: manager is shutting down")
	ErrRecoveryDisabled = errors.New("mongodb: auto-recovery disabled after too many failed attempts")
	ErrQueueFull        = errors.New("mongodb: operation queue is full")
	ErrQueueTimeout     = errors.New("mongodb: timed out waiting for queued operation")
)

// Operation is a deferred unit of work executed against a healthy database
// handle. It is never invoked against a known-invalid connection.
type Operation func(ctx context.Context, db *mongo.Database) (interface{}, error)

// probeCollection is written and cleaned up during connection verification.
const probeCollection = "connection_probe"

// staleFactor: a connection with no successful ping within
// staleFactor*HealthCheckInterval is considered silently dead.
const staleFactor = 3

// drainInterval is how often the queue processor wakes to look for work.
const drainInterval = 200 * time.Millisecond

// maxRecoveryBackoff caps the exponential backoff between recovery attempts.
const maxRecoveryBackoff = 30 * time.Second

// Manager owns exactly one usable MongoDB client handle and hides its
// lifecycle from callers: it reconnects with backoff on connection-class
// failures, runs a periodic health check, and queues operations during
// outages. Construct it explicitly and inject it; lifecycle is
// Start/Connect ... Disconnect.
type Manager struct {
	cfg config.MongoConfig

	// connMu serializes reconnect (write lock) against in-flight operations
	// (read lock) so an op never uses a client mid-teardown.
	connMu sync.RWMutex
	client *mongo.Client
	db     *mongo.Database

	state   atomic.Int32
	healthy atomic.Bool

	lastPingNano atomic.Int64

	opsAttempted  atomic.Int64
	opsSucceeded  atomic.Int64
	opsFailed     atomic.Int64
	opsQueued     atomic.Int64
	queueTimeouts atomic.Int64
	reconnects    atomic.Int64

	recoveryAttempts atomic.Int32
	recoveryDisabled atomic.Bool

	queue *operationQueue

	stopChan   chan struct{}
	healthDone chan struct{}
	drainDone  chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	// Seams for tests; production uses the real driver implementations.
	dial   func(ctx context.Context, opts *options.ClientOptions) (*mongo.Client, error)
	verify func(ctx context.Context, client *mongo.Client) error
}

// NewManager creates a stopped Manager for the given configuration.
func NewManager(cfg config.MongoConfig) *Manager {
	m := &Manager{
		cfg:        cfg,
		queue:      newOperationQueue(cfg.QueueCapacity),
		stopChan:   make(chan struct{}),
		healthDone: make(chan struct{}),
		drainDone:  make(chan struct{}),
	}
	m.state.Store(int32(StateDisconnected))
	m.dial = func(ctx context.Context, opts *options.ClientOptions) (*mongo.Client, error) {
		return mongo.Connect(ctx, opts)
	}
	m.verify = m.verifyConnection
	return m
}

// Start launches the background health check and queue drain loops.
// Safe to call once; subsequent calls are no-ops.
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		go m.healthLoop()
		go m.drainLoop()
	})
}

// State returns the current connection state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// stopping reports whether Disconnect has begun. Unlike the state value,
// which settles on Disconnected once teardown completes, the closed stop
// channel is permanent, so late callers are rejected instead of queued
// against a dead manager.
func (m *Manager) stopping() bool {
	select {
	case <-m.stopChan:
		return true
	default:
		return false
	}
}

// IsHealthy reports whether the connection is currently considered usable.
func (m *Manager) IsHealthy() bool {
	return m.healthy.Load()
}

// Connect establishes the client handle. It is idempotent: if the manager is
// already connected and healthy it returns immediately. Any stale handle is
// torn down first, and a freshly dialed client must pass multi-step
// verification (ping, list collections, trial write+delete) before the
// connection is marked usable.
func (m *Manager) Connect(ctx context.Context) error {
	if m.stopping() || m.State() == StateShuttingDown {
		return ErrShuttingDown
	}
	if m.IsHealthy() {
		return nil
	}

	m.connMu.Lock()
	defer m.connMu.Unlock()

	// Re-check under the lock; another caller may have won the race.
	if m.healthy.Load() {
		return nil
	}

	if m.State() != StateShuttingDown {
		if m.client != nil {
			m.state.Store(int32(StateReconnecting))
		} else {
			m.state.Store(int32(StateConnecting))
		}
	}

	m.teardownLocked()

	opts := options.Client().
		ApplyURI(m.cfg.ConnStr).
		SetMaxPoolSize(m.cfg.MaxPoolSize).
		SetMinPoolSize(m.cfg.MinPoolSize).
		SetConnectTimeout(m.cfg.ConnectTimeout).
		SetSocketTimeout(m.cfg.SocketTimeout).
		SetServerSelectionTimeout(m.cfg.ServerSelectTimeout).
		SetHeartbeatInterval(m.cfg.HeartbeatInterval).
		SetRetryWrites(true)

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	client, err := m.dial(dialCtx, opts)
	if err != nil {
		m.state.Store(int32(StateDisconnected))
		return fmt.Errorf("failed to create MongoDB client: %w", err)
	}

	if err := m.verify(dialCtx, client); err != nil {
		// Tear down the partial client; recovery is scheduled by the health loop.
		if discErr := client.Disconnect(context.Background()); discErr != nil {
			log.Printf("WARN: Failed to disconnect MongoDB client after verification failure: %v", discErr)
		}
		m.state.Store(int32(StateDisconnected))
		return fmt.Errorf("connection verification failed: %w", err)
	}

	m.client = client
	m.db = client.Database(m.cfg.Database)
	m.lastPingNano.Store(time.Now().UnixNano())
	m.healthy.Store(true)
	m.state.Store(int32(StateConnected))
	m.recoveryAttempts.Store(0)
	log.Printf("INFO: Connected to MongoDB database '%s'.", m.cfg.Database)
	return nil
}

// verifyConnection runs the multi-step check a fresh client must pass:
// ping the primary, list collection names, then a trial write and delete
// against the probe collection.
func (m *Manager) verifyConnection(ctx context.Context, client *mongo.Client) error {
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	db := client.Database(m.cfg.Database)
	if _, err := db.ListCollectionNames(ctx, bson.D{}); err != nil {
		return fmt.Errorf("list collections failed: %w", err)
	}

	probe := db.Collection(probeCollection)
	res, err := probe.InsertOne(ctx, bson.M{"at": time.Now()})
	if err != nil {
		return fmt.Errorf("trial write failed: %w", err)
	}
	if _, err := probe.DeleteOne(ctx, bson.M{"_id": res.InsertedID}); err != nil {
		return fmt.Errorf("trial delete failed: %w", err)
	}
	return nil
}

// PerformSafeOperation executes op with the manager's full retry discipline.
//
// Healthy path: the op runs under the read lock with connection-state checks
// before and after. Connection-class errors mark the connection unhealthy and
// retry with backoff plus jitter up to MaxRetries; other errors fail fast.
// Unhealthy path: the op is queued and the caller blocks until the drain loop
// executes it after a successful reconnect, or the queue wait times out.
//
// On exhaustion the returned error wraps ErrOperationFailed and the failure
// counter is incremented exactly once for the whole call.
func (m *Manager) PerformSafeOperation(ctx context.Context, name string, op Operation) (interface{}, error) {
	if m.stopping() || m.State() == StateShuttingDown {
		return nil, fmt.Errorf("%w: rejected operation %q", ErrShuttingDown, name)
	}
	m.opsAttempted.Add(1)

	if m.recoveryDisabled.Load() {
		m.opsFailed.Add(1)
		return nil, fmt.Errorf("%w: operation %q", ErrRecoveryDisabled, name)
	}

	if !m.IsHealthy() {
		return m.performQueued(ctx, name, op)
	}

	result, err := m.runAttempts(ctx, name, op)
	if err != nil {
		m.opsFailed.Add(1)
		return nil, err
	}
	m.opsSucceeded.Add(1)
	return result, nil
}

// runAttempts is the shared retry core used by both the direct path and the
// queue drain loop. It does not touch the terminal success/failure counters.
func (m *Manager) runAttempts(ctx context.Context, name string, op Operation) (interface{}, error) {
	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxRetries; attempt++ {
		if m.stopping() || m.State() == StateShuttingDown {
			return nil, fmt.Errorf("%w: operation %q", ErrShuttingDown, name)
		}

		if err := m.ensureConnected(ctx); err != nil {
			if errors.Is(err, ErrRecoveryDisabled) || errors.Is(err, ErrShuttingDown) {
				return nil, err
			}
			lastErr = err
			if waitErr := m.backoff(ctx, attempt); waitErr != nil {
				return nil, fmt.Errorf("%w: operation %q interrupted: %w", ErrOperationFailed, name, waitErr)
			}
			continue
		}

		result, err := m.executeOnce(ctx, op)
		if err == nil {
			if attempt > 1 {
				log.Printf("INFO: Operation %q succeeded on attempt %d.", name, attempt)
			}
			return result, nil
		}

		if !isConnectionError(err) {
			// Malformed query, permission, contract violation: retrying cannot help.
			return nil, fmt.Errorf("%w: operation %q: %w", ErrOperationFailed, name, err)
		}

		m.markUnhealthy(fmt.Sprintf("operation %q attempt %d", name, attempt), err)
		lastErr = err
		if waitErr := m.backoff(ctx, attempt); waitErr != nil {
			return nil, fmt.Errorf("%w: operation %q interrupted: %w", ErrOperationFailed, name, waitErr)
		}
	}
	return nil, fmt.Errorf("%w: operation %q exhausted %d attempts: %w", ErrOperationFailed, name, m.cfg.MaxRetries, lastErr)
}

// executeOnce runs op under the read lock, re-validating connection state
// immediately before and after. A result obtained from a connection that went
// invalid mid-flight is treated as a connection error so the caller retries.
func (m *Manager) executeOnce(ctx context.Context, op Operation) (interface{}, error) {
	m.connMu.RLock()
	defer m.connMu.RUnlock()

	if m.client == nil || !m.healthy.Load() {
		return nil, ErrNotConnected
	}
	db := m.db

	result, err := op(ctx, db)
	if err != nil {
		return nil, err
	}

	if !m.healthy.Load() {
		return nil, fmt.Errorf("%w: connection invalidated mid-operation", ErrNotConnected)
	}
	return result, nil
}

// performQueued parks the operation in the outage queue and blocks the caller
// until the drain loop reports a result or the configured wait expires.
func (m *Manager) performQueued(ctx context.Context, name string, op Operation) (interface{}, error) {
	qop := &queuedOperation{
		name:       name,
		op:         op,
		result:     make(chan queueResult, 1),
		enqueuedAt: time.Now(),
	}
	if err := m.queue.push(qop); err != nil {
		m.opsFailed.Add(1)
		return nil, fmt.Errorf("%w: operation %q", err, name)
	}
	m.opsQueued.Add(1)
	log.Printf("WARN: Connection unhealthy, queued operation %q (depth %d).", name, m.queue.depth())

	timer := time.NewTimer(m.cfg.QueueWaitTimeout)
	defer timer.Stop()

	select {
	case res := <-qop.result:
		if res.err != nil {
			m.opsFailed.Add(1)
			return nil, res.err
		}
		m.opsSucceeded.Add(1)
		return res.value, nil
	case <-ctx.Done():
		qop.abandon()
		m.opsFailed.Add(1)
		return nil, fmt.Errorf("%w: operation %q: %w", ErrOperationFailed, name, ctx.Err())
	case <-timer.C:
		qop.abandon()
		m.opsFailed.Add(1)
		m.queueTimeouts.Add(1)
		return nil, fmt.Errorf("%w: operation %q waited %v", ErrQueueTimeout, name, m.cfg.QueueWaitTimeout)
	}
}

// ensureConnected reconnects if the connection is not currently healthy.
func (m *Manager) ensureConnected(ctx context.Context) error {
	if m.IsHealthy() {
		return nil
	}
	if m.recoveryDisabled.Load() {
		return ErrRecoveryDisabled
	}
	if err := m.Connect(ctx); err != nil {
		return fmt.Errorf("%w: reconnect failed: %w", ErrNotConnected, err)
	}
	m.reconnects.Add(1)
	return nil
}

// markUnhealthy flags the connection so no further operations run against it
// until the health loop (or a retry) brings it back.
func (m *Manager) markUnhealthy(where string, err error) {
	if m.healthy.CompareAndSwap(true, false) {
		if m.State() == StateConnected {
			m.state.Store(int32(StateReconnecting))
		}
		log.Printf("WARN: Marking MongoDB connection unhealthy (%s): %v", where, err)
	}
}

// backoff sleeps for a linearly growing interval with jitter, honoring ctx
// cancellation and shutdown.
func (m *Manager) backoff(ctx context.Context, attempt int) error {
	d := time.Duration(attempt) * m.cfg.RetryBackoffBase
	if d > 0 {
		d += time.Duration(rand.Int63n(int64(m.cfg.RetryBackoffBase)))
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stopChan:
		return ErrShuttingDown
	}
}

// healthLoop periodically pings the database. On failure or staleness it marks
// the connection unhealthy and drives bounded recovery with exponential
// backoff plus jitter; after MaxRecoveryAttempts it disables itself until an
// operator calls ResetRecovery.
func (m *Manager) healthLoop() {
	defer close(m.healthDone)

	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.healthCheck()
		}
	}
}

func (m *Manager) healthCheck() {
	if m.State() == StateShuttingDown {
		return
	}

	if m.IsHealthy() {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ServerSelectTimeout)
		err := m.ping(ctx)
		cancel()

		if err != nil {
			m.markUnhealthy("health check", err)
		} else {
			m.lastPingNano.Store(time.Now().UnixNano())
			return
		}
	} else {
		// Staleness is only informative once we are already unhealthy.
		last := time.Unix(0, m.lastPingNano.Load())
		if !last.IsZero() && time.Since(last) > staleFactor*m.cfg.HealthCheckInterval {
			log.Printf("WARN: No successful MongoDB ping since %v.", last.Format(time.RFC3339))
		}
	}

	m.attemptRecovery()
}

// ping probes the current client under the read lock.
func (m *Manager) ping(ctx context.Context) error {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	if m.client == nil {
		return ErrNotConnected
	}
	return m.client.Ping(ctx, readpref.Primary())
}

// attemptRecovery makes one bounded reconnect attempt, spaced by exponential
// backoff with jitter derived from the attempt count.
func (m *Manager) attemptRecovery() {
	if m.recoveryDisabled.Load() || m.IsHealthy() {
		return
	}

	attempt := m.recoveryAttempts.Add(1)
	if int(attempt) > m.cfg.MaxRecoveryAttempts {
		if m.recoveryDisabled.CompareAndSwap(false, true) {
			log.Printf("ERROR: MongoDB auto-recovery disabled after %d failed attempts; manual reset required.", m.cfg.MaxRecoveryAttempts)
		}
		return
	}

	delay := m.cfg.RetryBackoffBase << uint(attempt-1)
	if delay > maxRecoveryBackoff {
		delay = maxRecoveryBackoff
	}
	if m.cfg.RetryBackoffBase > 0 {
		delay += time.Duration(rand.Int63n(int64(m.cfg.RetryBackoffBase)))
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-m.stopChan:
		return
	case <-timer.C:
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
	defer cancel()

	log.Printf("INFO: MongoDB recovery attempt %d/%d...", attempt, m.cfg.MaxRecoveryAttempts)
	if err := m.Connect(ctx); err != nil {
		log.Printf("WARN: MongoDB recovery attempt %d failed: %v", attempt, err)
		return
	}
	m.reconnects.Add(1)
	log.Printf("INFO: MongoDB connection recovered on attempt %d.", attempt)
}

// ResetRecovery re-enables auto-recovery after it disabled itself. Intended
// for operator tooling.
func (m *Manager) ResetRecovery() {
	m.recoveryAttempts.Store(0)
	if m.recoveryDisabled.CompareAndSwap(true, false) {
		log.Println("INFO: MongoDB auto-recovery re-enabled by operator reset.")
	}
}

// drainLoop executes queued operations in FIFO order, in bounded batches,
// once the connection is healthy again.
func (m *Manager) drainLoop() {
	defer close(m.drainDone)

	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.drainBatch()
		}
	}
}

func (m *Manager) drainBatch() {
	if !m.IsHealthy() {
		return
	}
	for i := 0; i < m.cfg.QueueDrainBatch; i++ {
		qop := m.queue.pop()
		if qop == nil {
			return
		}
		result, err := m.runAttempts(context.Background(), qop.name, qop.op)
		qop.deliver(queueResult{value: result, err: err})
		if err != nil {
			log.Printf("WARN: Queued operation %q failed during drain: %v", qop.name, err)
		}
		if !m.IsHealthy() {
			// Connection dropped again mid-drain; stop and wait for recovery.
			return
		}
	}
}

// Disconnect shuts the manager down. It is one-shot: background loops are
// stopped, remaining queued operations are failed out within the bounded
// window of ctx, and the client is closed. The manager cannot be restarted.
func (m *Manager) Disconnect(ctx context.Context) error {
	var err error
	m.stopOnce.Do(func() {
		m.state.Store(int32(StateShuttingDown))
		close(m.stopChan)
		<-m.healthDone
		<-m.drainDone

		// Discard whatever is still parked in the queue; new submissions are
		// already rejected by the state check.
		discarded := 0
		for {
			qop := m.queue.pop()
			if qop == nil {
				break
			}
			qop.deliver(queueResult{err: fmt.Errorf("%w: operation %q discarded", ErrShuttingDown, qop.name)})
			discarded++
			select {
			case <-ctx.Done():
			default:
				continue
			}
			break
		}
		if discarded > 0 {
			log.Printf("WARN: Discarded %d queued operations on shutdown.", discarded)
		}

		m.connMu.Lock()
		defer m.connMu.Unlock()
		m.healthy.Store(false)
		if m.client != nil {
			log.Println("INFO: Disconnecting from MongoDB...")
			err = m.client.Disconnect(ctx)
			m.client = nil
			m.db = nil
		}
		m.state.Store(int32(StateDisconnected))
	})
	return err
}

// teardownLocked closes any existing client. Caller must hold the write lock.
func (m *Manager) teardownLocked() {
	if m.client == nil {
		return
	}
	m.healthy.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.client.Disconnect(ctx); err != nil {
		log.Printf("WARN: Error closing stale MongoDB client: %v", err)
	}
	m.client = nil
	m.db = nil
}

// isConnectionError classifies an error as connection-class (retriable with
// reconnect) versus everything else (fail fast).
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotConnected) ||
		errors.Is(err, mongo.ErrClientDisconnected) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"server selection error",
		"connection refused",
		"connection reset",
		"connection closed",
		"socket was unexpectedly closed",
		"no reachable servers",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Execute wraps PerformSafeOperation for callers that want a typed result.
func Execute[T any](ctx context.Context, m *Manager, name string, op func(ctx context.Context, db *mongo.Database) (T, error)) (T, error) {
	var zero T
	result, err := m.PerformSafeOperation(ctx, name, func(ctx context.Context, db *mongo.Database) (interface{}, error) {
		return op(ctx, db)
	})
	if err != nil {
		return zero, err
	}
	if result == nil {
		return zero, nil
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("%w: unexpected result type %T", ErrOperationFailed, result)
	}
	return typed, nil
}
