package lifecycle

import "context"

// Phase orders shutdown. Lower phases finish before higher ones start.
type Phase int

const (
	// PhaseIngress stops accepting new work: HTTP server, bot poller.
	PhaseIngress Phase = iota
	// PhaseWorkers drains background processing: scheduler, queue consumer.
	PhaseWorkers
	// PhaseClients closes outbound clients: queue producer.
	PhaseClients
	// PhaseStorage closes connections to Redis and the database.
	PhaseStorage
)

// Hook describes a named shutdown hook.
type Hook struct {
	Name  string
	Phase Phase
	Fn    func(ctx context.Context) error
}
