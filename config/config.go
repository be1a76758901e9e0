package config

import (
	"fmt"
	"sort"
	"time"

	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Structs

// Config holds all information parsed from
// supplied config file.
type Config struct {
	Node   Node
	Gossip Gossip
	Peers  map[string]Peer
}

// Node describes the identity and endpoints of
// the local federation member.
type Node struct {
	Name           string
	ListenSyncAddr string
	PublicSyncAddr string
	PrometheusAddr string
	LogLevel       string
	LogRoot        string
}

// Gossip configures the anti-entropy scheduler:
// how often rounds run, how long one round may
// take and against how many peers per tick.
type Gossip struct {
	Topic      string
	IntervalMS int
	TimeoutMS  int
	Fanout     int
}

// Peer names one remote federation member and
// the address its synchronizer listens on.
type Peer struct {
	Name           string
	PublicSyncAddr string
}

// Functions

// LoadConfig takes in the path to the main config
// file of concord in TOML syntax and places the
// values from the file in the corresponding struct.
func LoadConfig(configFile string) (*Config, error) {

	conf := new(Config)

	// Parse values from TOML file into struct.
	_, err := toml.DecodeFile(configFile, conf)
	if err != nil {
		return nil, fmt.Errorf("failed to read in TOML config file at '%s' with: %v", configFile, err)
	}

	if conf.Node.Name == "" {
		return nil, fmt.Errorf("config at '%s' does not name the local node", configFile)
	}

	// The local node never gossips with itself.
	for name, peer := range conf.Peers {

		if peer.Name == conf.Node.Name {
			return nil, fmt.Errorf("peer '%s' duplicates the local node", name)
		}
	}

	// Fall back to sane defaults where the gossip
	// section leaves values unset.
	if conf.Gossip.Topic == "" {
		conf.Gossip.Topic = "gossip"
	}

	if conf.Gossip.IntervalMS <= 0 {
		conf.Gossip.IntervalMS = 1000
	}

	if conf.Gossip.TimeoutMS <= 0 {
		conf.Gossip.TimeoutMS = 500
	}

	if conf.Gossip.Fanout <= 0 {
		conf.Gossip.Fanout = 1
	}

	// An empty log root keeps the operation log in
	// memory; a relative one is anchored at the
	// config file's directory.
	if (conf.Node.LogRoot != "") && (filepath.IsAbs(conf.Node.LogRoot) != true) {

		absConfDir, err := filepath.Abs(filepath.Dir(configFile))
		if err != nil {
			return nil, fmt.Errorf("could not get absolute path of config directory: %v", err)
		}

		conf.Node.LogRoot = filepath.Join(absConfDir, conf.Node.LogRoot)
	}

	return conf, nil
}

// Interval returns the scheduler tick interval as a duration.
func (g Gossip) Interval() time.Duration {
	return time.Duration(g.IntervalMS) * time.Millisecond
}

// Timeout returns the per-round deadline as a duration.
func (g Gossip) Timeout() time.Duration {
	return time.Duration(g.TimeoutMS) * time.Millisecond
}

// PeerNames returns the names of all configured peers
// in lexicographic order.
func (c *Config) PeerNames() []string {

	names := make([]string, 0, len(c.Peers))
	for _, peer := range c.Peers {
		names = append(names, peer.Name)
	}
	sort.Strings(names)

	return names
}

// PeerTable returns the name-to-address map the TCP
// transport delivers to.
func (c *Config) PeerTable() map[string]string {

	table := make(map[string]string, len(c.Peers))
	for _, peer := range c.Peers {
		table[peer.Name] = peer.PublicSyncAddr
	}

	return table
}
