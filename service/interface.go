package service

// Service is the lifecycle interface for long-lived subsystems that sit on
// top of supervisors: terminal input forwarding, the bell, the metrics
// endpoint.
//
// Lifecycle:
//  1. Construction
//  2. Init(args...) with the arguments given at registration
//  3. Start() launches background goroutines
//  4. [runtime operation]
//  5. Stop() halts goroutines and releases resources
type Service interface {
	// Name returns the unique identifier for this service
	Name() string

	// Dependencies names services that must Init and Start before this one
	Dependencies() []string

	// Init configures the service; args are service-specific
	Init(args ...any) error

	// Start begins operation. Called after every service initialized.
	Start() error

	// Stop halts operation. Must be idempotent.
	Stop() error
}

// Reporter is implemented by services that surface asynchronous failures,
// e.g. a supervisor giving up on its worker
type Reporter interface {
	Errors() <-chan error
}
