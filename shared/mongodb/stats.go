// shared/mongodb/stats.go
package mongodb

import "time"

// Stats is an immutable diagnostics snapshot of a Manager. The counters are
// informational only and never drive control flow.
type Stats struct {
	State            string    `json:"state"`
	Healthy          bool      `json:"healthy"`
	LastPingAt       time.Time `json:"lastPingAt"`
	OpsAttempted     int64     `json:"opsAttempted"`
	OpsSucceeded     int64     `json:"opsSucceeded"`
	OpsFailed        int64     `json:"opsFailed"`
	OpsQueued        int64     `json:"opsQueued"`
	QueueTimeouts    int64     `json:"queueTimeouts"`
	QueueDepth       int       `json:"queueDepth"`
	Reconnects       int64     `json:"reconnects"`
	RecoveryAttempts int32     `json:"recoveryAttempts"`
	RecoveryDisabled bool      `json:"recoveryDisabled"`
}

// Stats returns a point-in-time snapshot of the manager's counters.
func (m *Manager) Stats() Stats {
	return Stats{
		State:            m.State().String(),
		Healthy:          m.healthy.Load(),
		LastPingAt:       time.Unix(0, m.lastPingNano.Load()),
		OpsAttempted:     m.opsAttempted.Load(),
		OpsSucceeded:     m.opsSucceeded.Load(),
		OpsFailed:        m.opsFailed.Load(),
		OpsQueued:        m.opsQueued.Load(),
		QueueTimeouts:    m.queueTimeouts.Load(),
		QueueDepth:       m.queue.depth(),
		Reconnects:       m.reconnects.Load(),
		RecoveryAttempts: m.recoveryAttempts.Load(),
		RecoveryDisabled: m.recoveryDisabled.Load(),
	}
}
