package e2e

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"k8s.io/klog/v2"
)

var _ = Describe("Concurrent Clients", func() {
	const numClients = 8

	It("should never grant an exclusive lock to two clients at once", func() {
		name := testLockName("counter")

		var inside atomic.Int32
		var maxInside atomic.Int32
		var wg sync.WaitGroup
		errChan := make(chan error, numClients)

		By(fmt.Sprintf("Running %d clients against one exclusive lock", numClients))
		for i := 0; i < numClients; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				defer GinkgoRecover()

				lock, err := lockClient.Acquire(ctx, name, exclusive)
				if err != nil {
					errChan <- fmt.Errorf("client %d: %w", idx, err)
					return
				}

				n := inside.Add(1)
				for {
					m := maxInside.Load()
					if n <= m || maxInside.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inside.Add(-1)

				lock.Release()
				klog.V(2).Infof("Client %d done with lock %d", idx, lock.ID())
			}(i)
		}

		wg.Wait()
		close(errChan)

		var errs []error
		for err := range errChan {
			errs = append(errs, err)
		}
		Expect(errs).To(BeEmpty(), "All clients should acquire the lock")
		Expect(maxInside.Load()).To(Equal(int32(1)), "exclusive lock was held concurrently")

		waitForHeld(name, 0)
		waitForPending(name, 0)
	})
})
