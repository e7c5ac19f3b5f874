package e2e

import (
	"context"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/lockd/pkg/client"
	"git.srvlab.io/whiskey/lockd/pkg/locks"
	"git.srvlab.io/whiskey/lockd/pkg/observability"
	"git.srvlab.io/whiskey/lockd/pkg/server"
)

// Suite-level variables
var (
	testRunID  string
	socketPath string
	metrics    *observability.Metrics
	manager    *locks.LockManager
	lockServer *server.Server
	lockClient *client.Client
	ctx        context.Context
	cancel     context.CancelFunc
)

// TestE2E is the entry point for the Ginkgo test suite
func TestE2E(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "lockd E2E Suite")
}

var _ = BeforeSuite(func() {
	// Setup logging
	klog.SetOutput(GinkgoWriter)

	// Generate unique test run ID for this test execution
	testRunID = fmt.Sprintf("e2e-%d", time.Now().Unix())
	klog.Infof("Starting E2E test suite with testRunID=%s", testRunID)

	By("Starting lockd on a unix socket")
	socketPath = fmt.Sprintf("/tmp/lockd-e2e-%s.sock", testRunID)
	_ = os.Remove(socketPath) // Clean up any existing socket

	metrics = observability.NewMetrics()
	manager = locks.NewLockManager(locks.ManagerConfig{Metrics: metrics})
	lockServer = server.NewServer(server.Config{Endpoint: "unix://" + socketPath}, manager, metrics)
	Expect(lockServer.Start()).To(Succeed(), "Failed to start lockd")

	By("Waiting for socket to be ready")
	Eventually(func() bool {
		conn, err := net.Dial("unix", socketPath)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 10*time.Second, 100*time.Millisecond).Should(BeTrue(), "lockd socket should be ready")

	By("Creating client")
	var err error
	lockClient, err = client.New(client.Config{Endpoint: "unix://" + socketPath})
	Expect(err).NotTo(HaveOccurred(), "Failed to create client")

	// Create context with timeout for all tests
	ctx, cancel = context.WithTimeout(context.Background(), 2*time.Minute)

	klog.Infof("E2E suite setup complete")
})

var _ = AfterSuite(func() {
	By("Cleaning up test suite")

	if lockClient != nil {
		_ = lockClient.Close()
	}

	if cancel != nil {
		cancel()
	}

	if lockServer != nil {
		By("Stopping lockd")
		lockServer.Stop()
		Expect(lockServer.Wait()).To(Succeed())
	}

	if socketPath != "" {
		_ = os.Remove(socketPath)
	}

	klog.Infof("E2E suite cleanup complete")
})

var _ = Describe("E2E Suite Sanity", func() {
	It("should have valid test infrastructure", func() {
		Expect(testRunID).NotTo(BeEmpty(), "testRunID should be set")
		Expect(lockClient).NotTo(BeNil(), "lockClient should be initialized")

		snap, err := lockClient.Snapshot(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(snap).NotTo(BeNil())
	})
})
