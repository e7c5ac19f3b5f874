package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/lockd/pkg/client"
	"git.srvlab.io/whiskey/lockd/pkg/locks"
	"git.srvlab.io/whiskey/lockd/pkg/server"
)

const usage = `Usage: lockctl [flags] <command> [args]

Commands:
  snapshot                 print pending requests and held locks as JSON
  hold <name>              acquire name and hold it until interrupted

Flags:
`

var (
	endpoint    = flag.String("endpoint", server.DefaultEndpoint, "lockd endpoint")
	mode        = flag.String("mode", "exclusive", "Lock mode for hold: exclusive or shared")
	ifAvailable = flag.Bool("if-available", false, "Fail instead of waiting when the lock is taken")
	steal       = flag.Bool("steal", false, "Take the lock from its current holders")
	wait        = flag.Duration("wait", 0, "Give up waiting for the lock after this long (0 waits forever)")
	timeout     = flag.Duration("timeout", 10*time.Second, "Timeout for snapshot")
)

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	c, err := client.New(client.Config{Endpoint: *endpoint})
	if err != nil {
		klog.Fatalf("Failed to create client: %v", err)
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd := flag.Arg(0); cmd {
	case "snapshot":
		err = snapshot(ctx, c)
	case "hold":
		if flag.NArg() != 2 {
			flag.Usage()
			os.Exit(2)
		}
		err = hold(ctx, c, flag.Arg(1))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		flag.Usage()
		os.Exit(2)
	}

	if errors.Is(err, client.ErrNotAvailable) {
		fmt.Fprintln(os.Stderr, "lock not available")
		os.Exit(3)
	}
	if err != nil {
		klog.Fatalf("%s failed: %v", flag.Arg(0), err)
	}
}

func snapshot(ctx context.Context, c *client.Client) error {
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	snap, err := c.Snapshot(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

func hold(ctx context.Context, c *client.Client, name string) error {
	m, err := locks.ParseMode(*mode)
	if err != nil {
		return err
	}

	waitCtx := ctx
	if *wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, *wait)
		defer cancel()
	}

	lock, err := c.Acquire(waitCtx, name, locks.RequestOptions{
		Mode:        m,
		IfAvailable: *ifAvailable,
		Steal:       *steal,
	})
	if err != nil {
		return err
	}
	fmt.Printf("holding %s lock %d on %q\n", lock.Mode(), lock.ID(), lock.Name())

	select {
	case <-ctx.Done():
		lock.Release()
		fmt.Println("released")
		return nil
	case <-lock.Lost():
		return fmt.Errorf("lock on %q lost: %s", name, lock.Reason())
	}
}
