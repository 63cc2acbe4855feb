package workflows

import "go.temporal.io/sdk/worker"

// Register adds the batch workflow and its activities to a worker.
func Register(w worker.Registry, acts *Activities) {
	w.RegisterWorkflow(DelineateBatchWorkflow)
	w.RegisterActivity(acts)
}
