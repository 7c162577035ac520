package taskname

const (
	// Billing tasks
	BillingCycleRun = "billing:cycle:run"
)

// Queues
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
)
