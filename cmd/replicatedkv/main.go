// Command replicatedkv runs one node of the replicated key-value store in
// examples/replicatedkv: depending on -role, it plays AReplica, Get, Put, or
// Disconnect, as the node named by the self id in its config file.
package main

import (
	"flag"
	"log"

	"github.com/mpcal-runtime/distsys"
	"github.com/mpcal-runtime/distsys/config"
	"github.com/mpcal-runtime/distsys/examples/replicatedkv"
	"github.com/mpcal-runtime/distsys/resources"
	"github.com/mpcal-runtime/distsys/tla"
	"github.com/pkg/profile"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the deployment config file")
	role := flag.String("role", "replica", "one of: replica, get, put, disconnect")
	key := flag.String("key", "x", "key to Get/Put against")
	value := flag.String("value", "", "value to Put")
	cpuProfile := flag.Bool("cpuprofile", false, "capture a CPU profile of this node's run")
	flag.Parse()

	if *cpuProfile {
		defer profile.Start(profile.CPUProfile).Stop()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("replicatedkv: %v", err)
	}

	numReplicas := cfg.Constants["NUM_REPLICAS"]
	numClients := cfg.Constants["NUM_CLIENTS"]

	addressMapping := func(index tla.Value) (resources.MailboxKind, string) {
		id := index.AsNumber()
		if id == cfg.Self {
			return resources.MailboxesLocal, cfg.MailboxListen
		}
		return resources.MailboxesRemote, cfg.PeerAddr(id)
	}

	constants := []distsys.ContextConfigFn{
		distsys.DefineConstantValue("NUM_REPLICAS", tla.Number(numReplicas)),
		distsys.DefineConstantValue("NUM_CLIENTS", tla.Number(numClients)),
	}

	self := tla.Number(cfg.Self)

	switch *role {
	case "replica":
		replicasIn := resources.NewMailboxes(self, addressMapping)
		clientsOut := resources.NewMailboxes(self, addressMapping)
		kv := replicatedkv.NewKVStore()
		ctx := distsys.NewArchetypeContext(self, replicatedkv.AReplica, append(constants,
			distsys.EnsureArchetypeRefParam("replicas", replicasIn),
			distsys.EnsureArchetypeRefParam("clients", clientsOut),
			distsys.EnsureArchetypeRefParam("kv", kv),
		)...)
		runToExit(ctx)

	case "get":
		clock := replicatedkv.NewClockTable()
		outputs := make(chan tla.Value, 1)
		go logOutputs(cfg.Self, outputs)
		ctx := distsys.NewArchetypeContext(self, replicatedkv.Get, append(constants,
			distsys.EnsureArchetypeRefParam("clientId", distsys.NewLocalResource(self)),
			distsys.EnsureArchetypeRefParam("replicas", resources.NewMailboxes(self, addressMapping)),
			distsys.EnsureArchetypeRefParam("clients", resources.NewMailboxes(self, addressMapping)),
			distsys.EnsureArchetypeRefParam("clock", clock),
			distsys.EnsureArchetypeRefParam("outside", resources.NewOutputChannel(outputs)),
			distsys.EnsureArchetypeValueParam("key", tla.Str(*key)),
		)...)
		runToExit(ctx)

	case "put":
		clock := replicatedkv.NewClockTable()
		outputs := make(chan tla.Value, 1)
		go logOutputs(cfg.Self, outputs)
		ctx := distsys.NewArchetypeContext(self, replicatedkv.Put, append(constants,
			distsys.EnsureArchetypeRefParam("clientId", distsys.NewLocalResource(self)),
			distsys.EnsureArchetypeRefParam("replicas", resources.NewMailboxes(self, addressMapping)),
			distsys.EnsureArchetypeRefParam("clients", resources.NewMailboxes(self, addressMapping)),
			distsys.EnsureArchetypeRefParam("clock", clock),
			distsys.EnsureArchetypeRefParam("outside", resources.NewOutputChannel(outputs)),
			distsys.EnsureArchetypeValueParam("key", tla.Str(*key)),
			distsys.EnsureArchetypeValueParam("value", tla.Str(*value)),
		)...)
		runToExit(ctx)

	case "disconnect":
		clock := replicatedkv.NewClockTable()
		ctx := distsys.NewArchetypeContext(self, replicatedkv.Disconnect, append(constants,
			distsys.EnsureArchetypeRefParam("clientId", distsys.NewLocalResource(self)),
			distsys.EnsureArchetypeRefParam("replicas", resources.NewMailboxes(self, addressMapping)),
			distsys.EnsureArchetypeRefParam("clock", clock),
		)...)
		runToExit(ctx)

	default:
		log.Fatalf("replicatedkv: unknown role %q", *role)
	}
}

func logOutputs(self int32, outputs <-chan tla.Value) {
	for v := range outputs {
		log.Printf("client %d: result %v", self, v)
	}
}

func runToExit(ctx *distsys.ArchetypeContext) {
	if err := ctx.Run(); err != nil {
		log.Fatalf("replicatedkv: archetype exited with error: %v", err)
	}
}
