package e2e

import (
	"fmt"
	"time"

	. "github.com/onsi/gomega"

	"git.srvlab.io/whiskey/lockd/pkg/client"
	"git.srvlab.io/whiskey/lockd/pkg/locks"
	"git.srvlab.io/whiskey/lockd/pkg/server"
)

const (
	defaultTimeout = 10 * time.Second
	pollInterval   = 20 * time.Millisecond
)

var (
	exclusive = locks.RequestOptions{Mode: locks.Exclusive}
	shared    = locks.RequestOptions{Mode: locks.Shared}
)

// testLockName creates a unique lock name for the current test so specs
// sharing the suite's server never contend by accident
func testLockName(name string) string {
	return fmt.Sprintf("%s-%s", testRunID, name)
}

// entriesFor filters snapshot entries down to one lock name
func entriesFor(entries []server.SnapshotEntry, name string) []server.SnapshotEntry {
	out := []server.SnapshotEntry{}
	for _, e := range entries {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// waitForPending waits until n requests for name are queued
func waitForPending(name string, n int) {
	Eventually(func() ([]server.SnapshotEntry, error) {
		snap, err := lockClient.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		return entriesFor(snap.Pending, name), nil
	}, defaultTimeout, pollInterval).Should(HaveLen(n), "expected %d pending requests for %s", n, name)
}

// waitForHeld waits until n locks on name are held
func waitForHeld(name string, n int) {
	Eventually(func() ([]server.SnapshotEntry, error) {
		snap, err := lockClient.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		return entriesFor(snap.Held, name), nil
	}, defaultTimeout, pollInterval).Should(HaveLen(n), "expected %d held locks on %s", n, name)
}

// acquireAsync starts an Acquire in the background and returns a channel
// that carries the lock, or nil on error
func acquireAsync(name string, opts locks.RequestOptions) <-chan *client.RemoteLock {
	ch := make(chan *client.RemoteLock, 1)
	go func() {
		lock, err := lockClient.Acquire(ctx, name, opts)
		if err != nil {
			ch <- nil
			return
		}
		ch <- lock
	}()
	return ch
}
