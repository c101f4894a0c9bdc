package scheduler

import "errors"

var (
	// ErrAlreadyRunning is returned by RefreshNow while a scrape for the
	// target is in flight.
	ErrAlreadyRunning = errors.New("scheduler: scrape already running")

	// ErrRefreshLimited is returned by RefreshNow inside the per-target
	// manual refresh cooldown.
	ErrRefreshLimited = errors.New("scheduler: manual refresh rate limited")

	// ErrQueueFull is returned by RefreshNow when every worker is busy
	// and the task queue has no room.
	ErrQueueFull = errors.New("scheduler: task queue full")
)
