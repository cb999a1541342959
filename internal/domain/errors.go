package domain

import "errors"

var (
	// ErrProductNotFound is returned when a product id is absent from the catalog
	ErrProductNotFound = errors.New("product not found in catalog")

	// ErrNoProducts is returned when the catalog (after filtering) is empty
	ErrNoProducts = errors.New("no products found")

	// ErrInvalidRequest is returned when request parameters are invalid
	ErrInvalidRequest = errors.New("invalid request parameters")

	// ErrCatalogFetch is returned when the remote catalog request fails
	ErrCatalogFetch = errors.New("catalog fetch failed")

	// ErrSnapshotNotFound is returned when no persisted snapshot exists
	ErrSnapshotNotFound = errors.New("catalog snapshot not found")

	// ErrImageUnavailable is returned when an image cannot be fetched or decoded
	ErrImageUnavailable = errors.New("image unavailable")

	// ErrCacheMiss is returned when data is not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrJobNotFound is returned when a job id is unknown or was evicted
	ErrJobNotFound = errors.New("job not found")

	// ErrJobQueueFull is returned when the job queue cannot take more work
	ErrJobQueueFull = errors.New("job queue full")

	// ErrJobFailed is returned when a background job ends in failure
	ErrJobFailed = errors.New("job failed")

	// ErrRunnerStopped is returned when submitting to a stopped job runner
	ErrRunnerStopped = errors.New("job runner stopped")
)
