// Package config loads the cluster description shared by every griyakv node.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"cs.umass.edu/griyakv/internal/paxos"
)

// Duration is a time.Duration written as "250ms" in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

type Proposer struct {
	Timeout      Duration `yaml:"timeout"`
	MaxAttempts  int      `yaml:"max_attempts"`
	BallotStep   uint64   `yaml:"ballot_step"`
	RetryBackoff Duration `yaml:"retry_backoff"`
	// HTTPBase is the first port of the proposer client API; node id is added.
	HTTPBase int `yaml:"http_base"`
}

type Acceptor struct {
	// DataDir holds one bbolt file per acceptor. Empty keeps state in memory.
	DataDir string `yaml:"data_dir"`
	// HTTPBase is the first port of the acceptor inspection API.
	HTTPBase int `yaml:"http_base"`
}

// Cluster is the static description of a deployment.
type Cluster struct {
	// Peers are the UDP addresses of the acceptors, indexed by node id.
	Peers    []string `yaml:"peers"`
	Proposer Proposer `yaml:"proposer"`
	Acceptor Acceptor `yaml:"acceptor"`
}

// Default is a three acceptor cluster on localhost.
func Default() Cluster {
	def := paxos.DefaultClientConfig()
	return Cluster{
		Peers: []string{"127.0.0.1:9700", "127.0.0.1:9701", "127.0.0.1:9702"},
		Proposer: Proposer{
			Timeout:      Duration(def.Timeout),
			MaxAttempts:  def.MaxAttempts,
			BallotStep:   def.BallotStep,
			RetryBackoff: Duration(def.RetryBackoff),
			HTTPBase:     9900,
		},
		Acceptor: Acceptor{HTTPBase: 9800},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Cluster, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Cluster{}, err
	}
	if err := Parse(raw, &c); err != nil {
		return Cluster{}, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes raw into c and validates the result.
func Parse(raw []byte, c *Cluster) error {
	if err := yaml.Unmarshal(raw, c); err != nil {
		return err
	}
	return c.Validate()
}

func (c Cluster) Validate() error {
	if len(c.Peers) == 0 {
		return errors.New("no peers configured")
	}
	seen := make(map[string]bool, len(c.Peers))
	for _, p := range c.Peers {
		if seen[p] {
			return fmt.Errorf("peer %s listed twice", p)
		}
		seen[p] = true
	}
	if c.Proposer.Timeout <= 0 {
		return errors.New("proposer timeout must be positive")
	}
	if c.Proposer.MaxAttempts <= 0 {
		return errors.New("proposer max_attempts must be positive")
	}
	if c.Proposer.BallotStep == 0 {
		return errors.New("proposer ballot_step must be positive")
	}
	return nil
}

// ClientConfig returns the proposer settings for node id.
func (c Cluster) ClientConfig(id uint16) paxos.ClientConfig {
	return paxos.ClientConfig{
		ID:           id,
		Timeout:      time.Duration(c.Proposer.Timeout),
		MaxAttempts:  c.Proposer.MaxAttempts,
		BallotStep:   c.Proposer.BallotStep,
		RetryBackoff: time.Duration(c.Proposer.RetryBackoff),
	}
}
