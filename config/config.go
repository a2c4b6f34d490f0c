// Package config binds the deployment surface of an archetype process:
// which node it is, where its mailbox listens, where its peers and monitor
// live, and the constants its archetype body was compiled against. Values
// come from a config file plus environment overrides via
// github.com/spf13/viper, the same shape systems/raftkvs configures itself
// with in the example pack.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Peer is one entry of the `peers` map: another node's mailbox address.
type Peer struct {
	Addr string
}

// DeploymentConfig is the typed result of binding a config file (plus
// DISTSYS_-prefixed environment overrides) to the keys documented for the
// `config` package: self, mailbox-listen, peers, monitor-addr, constants.*.
type DeploymentConfig struct {
	Self int32

	MailboxListen string
	MonitorAddr   string
	MonitorListen string

	Peers map[int32]Peer

	Constants map[string]int32
}

// Load reads path (any format viper supports: yaml, json, toml) and
// environment overrides into a DeploymentConfig.
func Load(path string) (DeploymentConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("distsys")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return DeploymentConfig{}, fmt.Errorf("distsys: reading config %s: %w", path, err)
	}

	var raw struct {
		Self          int32            `mapstructure:"self"`
		MailboxListen string           `mapstructure:"mailbox-listen"`
		MonitorAddr   string           `mapstructure:"monitor-addr"`
		MonitorListen string           `mapstructure:"monitor-listen"`
		Peers         map[int32]string `mapstructure:"peers"`
		Constants     map[string]int32 `mapstructure:"constants"`
	}
	if err := v.Unmarshal(&raw); err != nil {
		return DeploymentConfig{}, fmt.Errorf("distsys: parsing config %s: %w", path, err)
	}

	// viper lower-cases every key it reads; constant names are upper-case
	// (NUM_SERVERS, NUM_CLIENTS, ...), so restore that here.
	constants := make(map[string]int32, len(raw.Constants))
	for name, value := range raw.Constants {
		constants[strings.ToUpper(name)] = value
	}

	c := DeploymentConfig{
		Self:          raw.Self,
		MailboxListen: raw.MailboxListen,
		MonitorAddr:   raw.MonitorAddr,
		MonitorListen: raw.MonitorListen,
		Constants:     constants,
		Peers:         make(map[int32]Peer, len(raw.Peers)),
	}
	for id, addr := range raw.Peers {
		c.Peers[id] = Peer{Addr: addr}
	}
	return c, nil
}

// PeerAddr looks up a peer's mailbox address, panicking if id was never
// configured — a deployment bug, not a runtime condition.
func (c DeploymentConfig) PeerAddr(id int32) string {
	peer, ok := c.Peers[id]
	if !ok {
		panic(fmt.Errorf("distsys: no peer configured for node %d", id))
	}
	return peer.Addr
}

// FailureDetectorPullInterval and FailureDetectorTimeout are fixed values
// equal to the failure detector's built-in defaults in package resources.
// Load does not read them from the config file, and the failure detector
// does not consult them.
const (
	FailureDetectorPullInterval = 2 * time.Second
	FailureDetectorTimeout      = 1 * time.Second
)
