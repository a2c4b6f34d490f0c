// Command monitor runs a standalone liveness Monitor (spec §4.5): archetype
// processes register with it and heartbeat periodically; failure detector
// resources query it to decide whether a peer is suspected dead.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/mpcal-runtime/distsys/monitor"
	"github.com/pkg/profile"
)

func main() {
	listenAddr := flag.String("listen-addr", ":9000", "address the monitor RPC server listens on")
	inactivityWindow := flag.Duration("inactivity-window", 3*time.Second, "how long a peer may go silent before being suspected")
	cpuProfile := flag.Bool("cpuprofile", false, "capture a CPU profile of this monitor run")
	flag.Parse()

	if *cpuProfile {
		defer profile.Start(profile.CPUProfile).Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := monitor.NewMonitor(*listenAddr, *inactivityWindow)
	if err := m.ListenAndServe(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("monitor: %v", err)
	}
}
