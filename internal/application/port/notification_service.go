package port

// NotificationService pushes rollout state changes to connected clients.
type NotificationService interface {
	// Broadcast sends a state snapshot to all connected clients.
	Broadcast(snapshot interface{})

	// ClientCount returns the number of connected clients.
	ClientCount() int
}
