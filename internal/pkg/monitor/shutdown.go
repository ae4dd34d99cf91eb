// Copyright (c) 2018-2020, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package monitor

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/oci-ci/ocirun/pkg/sylog"
)

// MasterDrainTimeout is how long Shutdown waits, once stop_runner has been
// delivered to the Master, for every tracked process (the Master and any
// runners) to exit on its own before the sweep escalates to SIGKILL for
// every remaining one, master included.
const MasterDrainTimeout = 10 * time.Second

// ListenForSignals runs until ctx is cancelled, translating SIGTERM,
// SIGINT, SIGHUP and SIGQUIT into a call to Shutdown. It is meant to be run
// in its own goroutine from main.
func (m *Monitor) ListenForSignals(ctx context.Context) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP, syscall.SIGQUIT)
	defer signal.Stop(ch)

	select {
	case sig := <-ch:
		sylog.Infof("received signal %s, shutting down", sig)
		m.Shutdown(context.Background())
	case <-ctx.Done():
	}
}

// Shutdown is idempotent: it may be called more than once (e.g. once from a
// caught signal, once from the RPC stop path) and only the first call does
// any work.
func (m *Monitor) Shutdown(ctx context.Context) {
	m.shutdownOnce.Do(func() {
		m.doShutdown(ctx)
	})
}

func (m *Monitor) doShutdown(ctx context.Context) {
	m.shuttingDown.Store(true)

	if err := m.stopMaster(); err != nil {
		sylog.Debugf("shutdown: notifying master: %s", err)
	}

	drainCtx, cancel := context.WithTimeout(ctx, MasterDrainTimeout)
	defer cancel()
	m.waitForDrain(drainCtx)

	if err := m.sweepKill(); err != nil {
		sylog.Errorf("shutdown: %s", err)
	}
}

// waitForDrain blocks until every tracked process has terminated or ctx
// expires, whichever comes first.
func (m *Monitor) waitForDrain(ctx context.Context) {
	for {
		recs := m.snapshot()
		if len(recs) == 0 {
			return
		}
		var wg sync.WaitGroup
		done := make(chan struct{})
		for _, rec := range recs {
			wg.Add(1)
			go func(r *ProcessRecord) {
				defer wg.Done()
				<-r.Termination.Done()
			}(rec)
		}
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// sweepKill SIGKILLs every process still in the table. Deaths observed
// during the sweep are attributed to shutdown rather than reported as
// runner failures, via Monitor.ShuttingDown.
func (m *Monitor) sweepKill() error {
	recs := m.snapshot()
	if len(recs) == 0 {
		return nil
	}

	g := new(errgroup.Group)
	var merr error
	var mu sync.Mutex
	for _, rec := range recs {
		rec := rec
		g.Go(func() error {
			if err := signalProcess(rec.WrappedPID, syscall.SIGKILL); err != nil && err != ErrNoSuchProcess {
				mu.Lock()
				merr = multierror.Append(merr, err)
				mu.Unlock()
				return err
			}
			<-rec.Termination.Done()
			return nil
		})
	}
	_ = g.Wait()
	return merr
}

// stopMaster asks the Master, via the reverse RPC channel, to stop
// gracefully. It is best-effort: if the channel is not up (the Master
// already exited, or never connected), the error is swallowed by the
// caller.
func (m *Monitor) stopMaster() error {
	m.masterMu.Lock()
	peer := m.masterPeer
	m.masterMu.Unlock()
	if peer == nil {
		return nil
	}
	var reply struct{}
	return peer.Call("stop_runner", struct{}{}, &reply)
}
