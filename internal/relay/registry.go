package relay

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mseidel19/wallcast/internal/protocol"
)

// ErrDisplayTaken rejects a DISPLAY registration while one is already held.
var ErrDisplayTaken = errors.New("display role is already held")

// Client is one registered connection's session record. The registry owns it;
// everything outside the relay sees only the role and session ID.
type Client struct {
	SessionID    string
	Role         protocol.Role
	RegisteredAt time.Time
	conn         *conn
}

// Registry is the authoritative session table: role occupancy, membership and
// the cached dimension report. It is owned by the dispatch loop and must only
// be touched from there; single writer, no locks.
type Registry struct {
	clients map[string]*Client
	display *Client
	report  *protocol.DisplayCalibration
}

// NewRegistry returns an empty session table.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

// Register admits a connection under role and mints its session ID.
// A second DISPLAY is rejected without displacing the incumbent.
func (r *Registry) Register(c *conn, role protocol.Role, now time.Time) (*Client, error) {
	if role == protocol.RoleDisplay && r.display != nil {
		return nil, ErrDisplayTaken
	}

	client := &Client{
		SessionID:    uuid.NewString(),
		Role:         role,
		RegisteredAt: now,
		conn:         c,
	}
	r.clients[client.SessionID] = client
	if role == protocol.RoleDisplay {
		r.display = client
	}
	return client, nil
}

// Remove deletes a session. Removing the display also voids the cached
// dimension report, which is meaningless without a display.
func (r *Registry) Remove(sessionID string) *Client {
	client, ok := r.clients[sessionID]
	if !ok {
		return nil
	}
	delete(r.clients, sessionID)
	if r.display == client {
		r.display = nil
		r.report = nil
	}
	return client
}

// Display returns the current display session, or nil.
func (r *Registry) Display() *Client {
	return r.display
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	return len(r.clients)
}

// Snapshot materializes the membership at this instant, ordered by
// registration time. Broadcasts iterate the snapshot so structural changes
// triggered mid-iteration cannot affect it.
func (r *Registry) Snapshot() []*Client {
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool {
		if !clients[i].RegisteredAt.Equal(clients[j].RegisteredAt) {
			return clients[i].RegisteredAt.Before(clients[j].RegisteredAt)
		}
		return clients[i].SessionID < clients[j].SessionID
	})
	return clients
}

// SetDimensionReport caches the most recent display dimension report so a
// late-joining input client can be brought up to date exactly once.
func (r *Registry) SetDimensionReport(report *protocol.DisplayCalibration) {
	r.report = report
}

// DimensionReport returns the cached report, or nil if the display has not
// sent one (or is gone).
func (r *Registry) DimensionReport() *protocol.DisplayCalibration {
	return r.report
}
