// Copyright 2025 The Mirror Registry Authors
// SPDX-License-Identifier: Apache-2.0

package admin

import (
	"context"
	"log"
	"time"
)

// syncer is the slice of the git driver the scheduler needs.
type syncer interface {
	Inited() bool
	SyncUpstream() error
	SyncIndex() error
}

// intervals yields the sleep duration before each tick.
type intervals interface {
	Interval() time.Duration
}

// RunScheduler pulls the upstream index and pushes it to the served repo on
// a fixed cadence. The interval is re-read every tick so config changes take
// effect on the next round. Errors are logged, never fatal.
func RunScheduler(ctx context.Context, cfg intervals, git syncer) {
	interval := cfg.Interval()
	log.Printf("schedule start running, next: %s", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
		interval = cfg.Interval()
		if !git.Inited() {
			continue
		}
		log.Printf("sync upstream by schedule now, next: %s", interval)
		if err := git.SyncUpstream(); err != nil {
			log.Printf("sync upstream by schedule failed: %v", err)
			continue
		}
		if err := git.SyncIndex(); err != nil {
			log.Printf("sync index by schedule failed: %v", err)
		}
	}
}
