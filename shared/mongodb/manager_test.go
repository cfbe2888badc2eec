package mongodb

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/yakrealms/yak-services/shared/config"
)

func testConfig() config.MongoConfig {
	return config.MongoConfig{
		ConnStr:             "mongodb://127.0.0.1:1",
		Database:            "yakrealms_test",
		PlayersCollection:   "players",
		BackupsCollection:   "player_backups",
		MaxPoolSize:         4,
		MinPoolSize:         1,
		ConnectTimeout:      2 * time.Second,
		SocketTimeout:       2 * time.Second,
		ServerSelectTimeout: 200 * time.Millisecond,
		HeartbeatInterval:   10 * time.Second,
		HealthCheckInterval: time.Hour, // keep the health loop quiet in tests
		MaxRetries:          3,
		RetryBackoffBase:    time.Millisecond,
		MaxRecoveryAttempts: 5,
		QueueCapacity:       8,
		QueueWaitTimeout:    2 * time.Second,
		QueueDrainBatch:     4,
	}
}

// newTestManager returns a manager whose dial and verify steps never touch a
// real server. The driver builds clients lazily, so the handle is valid even
// though nothing listens on the configured address.
func newTestManager(t *testing.T, cfg config.MongoConfig) *Manager {
	t.Helper()
	m := NewManager(cfg)
	m.dial = func(ctx context.Context, opts *options.ClientOptions) (*mongo.Client, error) {
		return mongo.Connect(ctx, options.Client().ApplyURI(cfg.ConnStr))
	}
	m.verify = func(ctx context.Context, client *mongo.Client) error {
		return nil
	}
	return m
}

func TestConnectSuccess(t *testing.T) {
	m := newTestManager(t, testConfig())

	require.NoError(t, m.Connect(context.Background()))
	assert.True(t, m.IsHealthy())
	assert.Equal(t, StateConnected, m.State())

	// Idempotent while healthy.
	require.NoError(t, m.Connect(context.Background()))
}

func TestConnectVerificationFailure(t *testing.T) {
	m := newTestManager(t, testConfig())
	m.verify = func(ctx context.Context, client *mongo.Client) error {
		return errors.New("ping failed: no reachable servers")
	}

	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verification failed")
	assert.False(t, m.IsHealthy())
	assert.Equal(t, StateDisconnected, m.State())
}

func TestPerformSafeOperationSuccess(t *testing.T) {
	m := newTestManager(t, testConfig())
	require.NoError(t, m.Connect(context.Background()))

	result, err := m.PerformSafeOperation(context.Background(), "TestOp",
		func(ctx context.Context, db *mongo.Database) (interface{}, error) {
			return 42, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 42, result)

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.OpsAttempted)
	assert.Equal(t, int64(1), stats.OpsSucceeded)
	assert.Equal(t, int64(0), stats.OpsFailed)
}

func TestRetryThenSuccess(t *testing.T) {
	m := newTestManager(t, testConfig())
	require.NoError(t, m.Connect(context.Background()))

	var calls atomic.Int32
	result, err := m.PerformSafeOperation(context.Background(), "FlakyOp",
		func(ctx context.Context, db *mongo.Database) (interface{}, error) {
			if calls.Add(1) < 3 {
				return nil, errors.New("connection reset by peer")
			}
			return "ok", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, int32(3), calls.Load())

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.OpsSucceeded)
	assert.Equal(t, int64(0), stats.OpsFailed, "a retried success must not count as a failure")
}

func TestExhaustionCountsOneFailure(t *testing.T) {
	m := newTestManager(t, testConfig())
	require.NoError(t, m.Connect(context.Background()))

	var calls atomic.Int32
	_, err := m.PerformSafeOperation(context.Background(), "DeadOp",
		func(ctx context.Context, db *mongo.Database) (interface{}, error) {
			calls.Add(1)
			return nil, errors.New("connection refused")
		})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOperationFailed)
	assert.Equal(t, int32(m.cfg.MaxRetries), calls.Load())

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.OpsFailed, "exhaustion counts exactly one failure")
	assert.Equal(t, int64(0), stats.OpsSucceeded)
}

func TestNonConnectionErrorFailsFast(t *testing.T) {
	m := newTestManager(t, testConfig())
	require.NoError(t, m.Connect(context.Background()))

	var calls atomic.Int32
	_, err := m.PerformSafeOperation(context.Background(), "BadQuery",
		func(ctx context.Context, db *mongo.Database) (interface{}, error) {
			calls.Add(1)
			return nil, errors.New("duplicate key error")
		})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOperationFailed)
	assert.Equal(t, int32(1), calls.Load(), "non-connection errors must not be retried")
	assert.True(t, m.IsHealthy(), "a query error must not poison the connection")
}

func TestQueueWaitTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.QueueWaitTimeout = 50 * time.Millisecond
	m := newTestManager(t, cfg)
	// Never connected and no drain loop running: the operation parks in the
	// queue until the wait expires.

	start := time.Now()
	_, err := m.PerformSafeOperation(context.Background(), "ParkedOp",
		func(ctx context.Context, db *mongo.Database) (interface{}, error) {
			return nil, nil
		})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueueTimeout)
	assert.GreaterOrEqual(t, time.Since(start), cfg.QueueWaitTimeout)

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.OpsQueued)
	assert.Equal(t, int64(1), stats.QueueTimeouts)
	assert.Equal(t, int64(1), stats.OpsFailed)
}

func TestQueuedOperationDrainsAfterReconnect(t *testing.T) {
	m := newTestManager(t, testConfig())
	m.Start()
	defer m.Disconnect(context.Background())

	done := make(chan struct{})
	var result interface{}
	var opErr error
	go func() {
		defer close(done)
		result, opErr = m.PerformSafeOperation(context.Background(), "QueuedOp",
			func(ctx context.Context, db *mongo.Database) (interface{}, error) {
				return "drained", nil
			})
	}()

	// Give the submitter time to park, then bring the connection up so the
	// drain loop picks the operation off the queue.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, m.Connect(context.Background()))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("queued operation was never drained")
	}
	require.NoError(t, opErr)
	assert.Equal(t, "drained", result)

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.OpsQueued)
	assert.Equal(t, int64(1), stats.OpsSucceeded)
}

func TestRecoveryDisabledRejectsOperations(t *testing.T) {
	m := newTestManager(t, testConfig())
	m.recoveryDisabled.Store(true)

	_, err := m.PerformSafeOperation(context.Background(), "RejectedOp",
		func(ctx context.Context, db *mongo.Database) (interface{}, error) {
			return nil, nil
		})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRecoveryDisabled)
	assert.Equal(t, int64(1), m.Stats().OpsFailed)

	m.ResetRecovery()
	assert.False(t, m.Stats().RecoveryDisabled)
	assert.Equal(t, int32(0), m.Stats().RecoveryAttempts)
}

func TestDisconnectRejectsFurtherOperations(t *testing.T) {
	m := newTestManager(t, testConfig())
	m.Start()
	require.NoError(t, m.Connect(context.Background()))

	require.NoError(t, m.Disconnect(context.Background()))
	assert.Equal(t, StateDisconnected, m.State())

	// A late operation must be rejected outright, not parked in the queue
	// until the wait timeout.
	start := time.Now()
	_, err := m.PerformSafeOperation(context.Background(), "LateOp",
		func(ctx context.Context, db *mongo.Database) (interface{}, error) {
			return nil, nil
		})
	assert.ErrorIs(t, err, ErrShuttingDown)
	assert.Less(t, time.Since(start), m.cfg.QueueWaitTimeout)
	assert.Equal(t, int64(0), m.Stats().OpsQueued)

	assert.ErrorIs(t, m.Connect(context.Background()), ErrShuttingDown)
}

func TestRecoveryToleratesZeroBackoffBase(t *testing.T) {
	cfg := testConfig()
	cfg.RetryBackoffBase = 0 // bypasses config validation via direct construction
	m := newTestManager(t, cfg)

	require.False(t, m.IsHealthy())
	m.attemptRecovery()

	assert.True(t, m.IsHealthy())
	assert.Equal(t, int64(1), m.Stats().Reconnects)
	assert.Equal(t, int32(0), m.Stats().RecoveryAttempts, "attempt counter resets on success")
}

func TestExecuteTypedWrapper(t *testing.T) {
	m := newTestManager(t, testConfig())
	require.NoError(t, m.Connect(context.Background()))

	n, err := Execute(context.Background(), m, "TypedOp",
		func(ctx context.Context, db *mongo.Database) (int, error) {
			return 7, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = Execute(context.Background(), m, "TypedFail",
		func(ctx context.Context, db *mongo.Database) (int, error) {
			return 0, errors.New("no such field")
		})
	assert.ErrorIs(t, err, ErrOperationFailed)
}

func TestIsConnectionErrorClassification(t *testing.T) {
	assert.True(t, isConnectionError(ErrNotConnected))
	assert.True(t, isConnectionError(mongo.ErrClientDisconnected))
	assert.True(t, isConnectionError(context.DeadlineExceeded))
	assert.True(t, isConnectionError(errors.New("server selection error: context deadline exceeded")))
	assert.True(t, isConnectionError(errors.New("dial tcp: connection refused")))

	assert.False(t, isConnectionError(nil))
	assert.False(t, isConnectionError(errors.New("duplicate key error")))
	assert.False(t, isConnectionError(mongo.ErrNoDocuments))
}

func TestOperationQueueFIFOAndCapacity(t *testing.T) {
	q := newOperationQueue(2)

	a := &queuedOperation{name: "a", result: make(chan queueResult, 1)}
	b := &queuedOperation{name: "b", result: make(chan queueResult, 1)}
	c := &queuedOperation{name: "c", result: make(chan queueResult, 1)}

	require.NoError(t, q.push(a))
	require.NoError(t, q.push(b))
	assert.ErrorIs(t, q.push(c), ErrQueueFull)
	assert.Equal(t, 2, q.depth())

	assert.Equal(t, "a", q.pop().name)
	assert.Equal(t, "b", q.pop().name)
	assert.Nil(t, q.pop())
}

func TestAbandonedOperationDropsResult(t *testing.T) {
	op := &queuedOperation{name: "late", result: make(chan queueResult, 1)}
	op.abandon()
	op.deliver(queueResult{value: "ignored"})

	select {
	case <-op.result:
		t.Fatal("abandoned operation must not receive a result")
	default:
	}
}
