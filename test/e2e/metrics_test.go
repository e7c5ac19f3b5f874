package e2e

import (
	"io"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Metrics", func() {
	It("should export coordinator and RPC metrics", func() {
		name := testLockName("metrics")

		lock, err := lockClient.Acquire(ctx, name, exclusive)
		Expect(err).NotTo(HaveOccurred())
		lock.Release()
		waitForHeld(name, 0)

		srv := httptest.NewServer(metrics.Handler())
		defer srv.Close()

		resp, err := srv.Client().Get(srv.URL)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(And(
			ContainSubstring(`lockd_lock_requests_total{kind="queue",mode="exclusive"}`),
			ContainSubstring(`lockd_lock_request_results_total{status="granted"}`),
			ContainSubstring(`lockd_locks_ejected_total{reason="released"}`),
			ContainSubstring(`lockd_rpc_requests_total{code="OK",method="/lockd.v1.LockService/Snapshot"}`),
			ContainSubstring("lockd_locks_held"),
		))
	})
})
