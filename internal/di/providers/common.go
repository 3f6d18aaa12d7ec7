package providers

import "time"

const (
	// shutdownTimeout is the maximum time to wait for graceful shutdown of services.
	shutdownTimeout = 30 * time.Second

	// purgeInterval is how often expired jobs and result sets are swept.
	purgeInterval = 5 * time.Minute
)
