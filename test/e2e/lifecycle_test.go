package e2e

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"git.srvlab.io/whiskey/lockd/pkg/client"
	"git.srvlab.io/whiskey/lockd/pkg/server"
)

var _ = Describe("Lock Lifecycle", func() {
	It("should queue a shared request behind an exclusive holder and grant it on release", func() {
		name := testLockName("doc")

		By("Acquiring the lock exclusively")
		first, err := lockClient.Acquire(ctx, name, exclusive)
		Expect(err).NotTo(HaveOccurred())
		waitForHeld(name, 1)

		By("Requesting it shared")
		second := acquireAsync(name, shared)
		waitForPending(name, 1)
		Consistently(second, 100*time.Millisecond).ShouldNot(Receive())

		snap, err := lockClient.Snapshot(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(entriesFor(snap.Pending, name)).To(Equal([]server.SnapshotEntry{{Name: name, Mode: "shared"}}))
		Expect(entriesFor(snap.Held, name)).To(Equal([]server.SnapshotEntry{{Name: name, Mode: "exclusive"}}))

		By("Releasing the exclusive lock")
		first.Release()

		var lock *client.RemoteLock
		Eventually(second, defaultTimeout).Should(Receive(&lock))
		Expect(lock).NotTo(BeNil())
		Expect(lock.Mode().String()).To(Equal("shared"))

		waitForPending(name, 0)
		waitForHeld(name, 1)

		lock.Release()
		waitForHeld(name, 0)
	})

	It("should grant concurrent shared locks", func() {
		name := testLockName("shared")

		a, err := lockClient.Acquire(ctx, name, shared)
		Expect(err).NotTo(HaveOccurred())
		defer a.Release()

		b, err := lockClient.Acquire(ctx, name, shared)
		Expect(err).NotTo(HaveOccurred())
		defer b.Release()

		Expect(a.ID()).NotTo(Equal(b.ID()))
		waitForHeld(name, 2)
	})

	It("should reject an if-available request without queueing it", func() {
		name := testLockName("probe")

		holder, err := lockClient.Acquire(ctx, name, exclusive)
		Expect(err).NotTo(HaveOccurred())
		defer holder.Release()

		opts := shared
		opts.IfAvailable = true
		_, err = lockClient.Acquire(ctx, name, opts)
		Expect(err).To(MatchError(client.ErrNotAvailable))
		waitForPending(name, 0)
	})

	It("should move a stolen lock to the thief and tell the victim", func() {
		name := testLockName("steal")

		victim, err := lockClient.Acquire(ctx, name, exclusive)
		Expect(err).NotTo(HaveOccurred())

		waiter := acquireAsync(name, exclusive)
		waitForPending(name, 1)

		opts := exclusive
		opts.Steal = true
		thief, err := lockClient.Acquire(ctx, name, opts)
		Expect(err).NotTo(HaveOccurred())

		Eventually(victim.Lost(), defaultTimeout).Should(BeClosed())
		Expect(victim.Reason()).To(Equal("stolen"))

		// The stealer jumped the queue; the waiter is still behind it
		waitForPending(name, 1)
		Consistently(waiter, 100*time.Millisecond).ShouldNot(Receive())

		thief.Release()
		var lock *client.RemoteLock
		Eventually(waiter, defaultTimeout).Should(Receive(&lock))
		Expect(lock).NotTo(BeNil())
		lock.Release()
		victim.Release()
	})
})
