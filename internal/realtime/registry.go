package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/taskflowhq/taskflow/pkg/logger"
	"github.com/taskflowhq/taskflow/pkg/metrics"
)

// TeamSource supplies a user's current team memberships. Lookups run outside
// the registry lock so a slow store never blocks presence reads.
type TeamSource interface {
	TeamsForUser(ctx context.Context, userID string) ([]string, error)
}

// presence is the registry entry for one online user. An entry exists iff the
// user holds at least one live connection.
type presence struct {
	connections map[*Connection]struct{}
	teamIDs     []string
}

// Registry tracks which users are online and caches their team memberships
// for the lifetime of their presence. All mutation happens through Register,
// Deregister, and RefreshTeams; lookups never observe a partially updated
// entry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*presence

	teams TeamSource
	log   *zap.Logger
}

// NewRegistry constructs a Registry backed by the supplied team source.
func NewRegistry(teams TeamSource) *Registry {
	return &Registry{
		entries: make(map[string]*presence),
		teams:   teams,
		log:     logger.WithModule("realtime.registry"),
	}
}

// Register adds a connection to the user's presence entry, creating the entry
// if absent, and refreshes the cached team memberships. The membership load
// happens before the lock is taken.
func (r *Registry) Register(ctx context.Context, userID string, conn *Connection) {
	teamIDs := r.loadTeams(ctx, userID)

	r.mu.Lock()
	entry, ok := r.entries[userID]
	if !ok {
		entry = &presence{connections: make(map[*Connection]struct{})}
		r.entries[userID] = entry
		metrics.OnlineUsers.Inc()
	}
	entry.connections[conn] = struct{}{}
	entry.teamIDs = teamIDs
	r.mu.Unlock()

	metrics.ActiveConnections.Inc()
	r.log.Debug("connection registered",
		zap.String("user_id", userID),
		zap.String("connection_id", conn.ID()),
	)
}

// Deregister removes the connection; when the user's last connection goes,
// the whole entry (including the team cache) goes with it. Unknown
// connections are a no-op, so double deregistration is harmless.
func (r *Registry) Deregister(userID string, conn *Connection) {
	r.mu.Lock()
	entry, ok := r.entries[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, ok := entry.connections[conn]; !ok {
		r.mu.Unlock()
		return
	}
	delete(entry.connections, conn)
	lastGone := len(entry.connections) == 0
	if lastGone {
		delete(r.entries, userID)
	}
	r.mu.Unlock()

	metrics.ActiveConnections.Dec()
	if lastGone {
		metrics.OnlineUsers.Dec()
	}
	r.log.Debug("connection deregistered",
		zap.String("user_id", userID),
		zap.String("connection_id", conn.ID()),
		zap.Bool("user_offline", lastGone),
	)
}

// ConnectionsFor returns a snapshot of the user's live connections, empty when
// the user is offline. Never blocks on I/O.
func (r *Registry) ConnectionsFor(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[userID]
	if !ok {
		return nil
	}

	out := make([]*Connection, 0, len(entry.connections))
	for conn := range entry.connections {
		out = append(out, conn)
	}
	return out
}

// TeamsFor returns the cached team memberships, empty when the user is offline.
func (r *Registry) TeamsFor(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[userID]
	if !ok {
		return nil
	}

	out := make([]string, len(entry.teamIDs))
	copy(out, entry.teamIDs)
	return out
}

// IsOnline reports whether the user currently holds at least one connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.entries[userID]
	return ok
}

// RefreshTeams re-reads the user's team memberships and swaps the cached copy
// if the user is still online. The team-mutation layer calls this after
// membership writes so connected users see changes immediately instead of on
// their next reconnect.
func (r *Registry) RefreshTeams(ctx context.Context, userID string) {
	r.mu.RLock()
	_, online := r.entries[userID]
	r.mu.RUnlock()
	if !online {
		return
	}

	teamIDs := r.loadTeams(ctx, userID)

	r.mu.Lock()
	if entry, ok := r.entries[userID]; ok {
		entry.teamIDs = teamIDs
	}
	r.mu.Unlock()
}

func (r *Registry) loadTeams(ctx context.Context, userID string) []string {
	if r.teams == nil {
		return nil
	}

	teamIDs, err := r.teams.TeamsForUser(ctx, userID)
	if err != nil {
		r.log.Warn("team membership load failed; caching empty set",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil
	}
	return teamIDs
}
