// Command proxy runs one node of the proxy/server/client system in
// examples/proxy: depending on the self id in its config file, it plays the
// role of AProxy, AServer, or AClient, dialing/listening according to that
// file.
package main

import (
	"flag"
	"log"
	"time"

	"github.com/mpcal-runtime/distsys"
	"github.com/mpcal-runtime/distsys/config"
	"github.com/mpcal-runtime/distsys/examples/proxy"
	"github.com/mpcal-runtime/distsys/monitor"
	"github.com/mpcal-runtime/distsys/resources"
	"github.com/mpcal-runtime/distsys/tla"
	"github.com/pkg/profile"
)

const heartbeatInterval = 1 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to the deployment config file")
	cpuProfile := flag.Bool("cpuprofile", false, "capture a CPU profile of this node's run")
	flag.Parse()

	if *cpuProfile {
		defer profile.Start(profile.CPUProfile).Stop()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("proxy: %v", err)
	}

	numServers := cfg.Constants["NUM_SERVERS"]
	numClients := cfg.Constants["NUM_CLIENTS"]
	numRequests := cfg.Constants["NUM_REQUESTS"]
	proxyID := numServers + numClients + 1

	addressMapping := func(index tla.Value) (resources.MailboxKind, string) {
		id := index.AsNumber()
		if id == cfg.Self {
			return resources.MailboxesLocal, cfg.MailboxListen
		}
		return resources.MailboxesRemote, cfg.PeerAddr(id)
	}

	constants := []distsys.ContextConfigFn{
		distsys.DefineConstantValue("NUM_SERVERS", tla.Number(numServers)),
		distsys.DefineConstantValue("NUM_CLIENTS", tla.Number(numClients)),
		distsys.DefineConstantValue("NUM_REQUESTS", tla.Number(numRequests)),
	}

	self := tla.Number(cfg.Self)

	switch {
	case cfg.Self <= numServers:
		net := resources.NewMailboxes(self, addressMapping)
		ctx := distsys.NewArchetypeContext(self, proxy.AServer, append(constants,
			distsys.EnsureArchetypeRefParam("net", net),
		)...)
		// The proxy's failure detector only ever sees a server as alive if
		// that server registers and heartbeats with the monitor.
		if err := monitor.RunUnder(ctx, cfg.MonitorAddr, heartbeatInterval); err != nil {
			log.Fatalf("proxy: archetype exited with error: %v", err)
		}

	case cfg.Self <= numServers+numClients:
		net := resources.NewMailboxes(self, addressMapping)
		values := make(chan tla.Value, 1)
		go func() {
			defer close(values)
			for i := int32(0); i < numRequests; i++ {
				values <- tla.Number(i)
			}
		}()
		outputs := make(chan tla.Value, 1)
		go func() {
			for v := range outputs {
				log.Printf("proxy client %d: response %v", cfg.Self, v)
			}
		}()
		ctx := distsys.NewArchetypeContext(self, proxy.AClient, append(constants,
			distsys.EnsureArchetypeRefParam("net", net),
			distsys.EnsureArchetypeRefParam("input", resources.NewInputChannel(values)),
			distsys.EnsureArchetypeRefParam("output", resources.NewOutputChannel(outputs)),
		)...)
		runToExit(ctx)

	default:
		if cfg.Self != proxyID {
			log.Fatalf("proxy: self id %d falls after the last client (%d) but isn't the proxy id %d", cfg.Self, numServers+numClients, proxyID)
		}
		net := resources.NewMailboxes(self, addressMapping)
		fd := resources.NewFailureDetector(func(tla.Value) string { return cfg.MonitorAddr })
		ctx := distsys.NewArchetypeContext(self, proxy.AProxy, append(constants,
			distsys.EnsureArchetypeRefParam("net", net),
			distsys.EnsureArchetypeRefParam("fd", fd),
		)...)
		runToExit(ctx)
	}
}

func runToExit(ctx *distsys.ArchetypeContext) {
	if err := ctx.Run(); err != nil {
		log.Fatalf("proxy: archetype exited with error: %v", err)
	}
}
