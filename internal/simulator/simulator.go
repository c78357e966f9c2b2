// Package simulator runs acceptors and proposers over the simulated network
// and checks that they agree.
package simulator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"cs.umass.edu/griyakv/internal/paxos"
	"cs.umass.edu/griyakv/internal/storage"
	"cs.umass.edu/griyakv/internal/transport"
)

// Config describes a simulated cluster and its workload.
type Config struct {
	Acceptors int
	Proposers int
	// Keys is the number of distinct keys the proposers contend on.
	Keys int
	// Rounds is the number of proposals each proposer makes.
	Rounds int
	Seed   int64
	Faults transport.Faults
	// Client is used for every proposer; its ID is replaced.
	Client paxos.ClientConfig
}

func (c Config) withDefaults() Config {
	if c.Acceptors <= 0 {
		c.Acceptors = 3
	}
	if c.Proposers <= 0 {
		c.Proposers = 1
	}
	if c.Keys <= 0 {
		c.Keys = 1
	}
	if c.Rounds <= 0 {
		c.Rounds = 1
	}
	return c
}

// Cluster is a set of acceptors and proposers wired over one Sim.
type Cluster struct {
	Net       *transport.Sim
	Acceptors []string
	Proposers []string
	Clients   []*paxos.Client

	stores map[string]*auditedStore
}

func AcceptorName(i int) string { return fmt.Sprintf("acceptor-%d", i) }
func ProposerName(i int) string { return fmt.Sprintf("proposer-%d", i) }

// NewCluster builds the acceptors and proposers of cfg. Proposer i gets
// ballot tag i+1.
func NewCluster(cfg Config) *Cluster {
	cfg = cfg.withDefaults()
	c := &Cluster{
		Net:    transport.NewSim(cfg.Seed, cfg.Faults),
		stores: make(map[string]*auditedStore),
	}
	for i := 0; i < cfg.Acceptors; i++ {
		name := AcceptorName(i)
		store := newAuditedStore(name, storage.NewMemory())
		c.stores[name] = store
		c.Acceptors = append(c.Acceptors, name)
		c.Net.Register(name, paxos.NewServer(name, store))
	}
	for i := 0; i < cfg.Proposers; i++ {
		name := ProposerName(i)
		cc := cfg.Client
		cc.ID = uint16(i + 1)
		c.Proposers = append(c.Proposers, name)
		c.Clients = append(c.Clients, paxos.NewClient(cc, c.Acceptors, c.Net.Endpoint(name)))
	}
	return c
}

// Store returns the storage of the named acceptor.
func (c *Cluster) Store(name string) paxos.Storage {
	return c.stores[name]
}

// Violations collects every acceptor invariant broken so far.
func (c *Cluster) Violations() []string {
	var out []string
	for _, name := range c.Acceptors {
		out = append(out, c.stores[name].Violations()...)
	}
	return out
}

// Holders counts the acceptors whose accepted payload for key equals value.
func (c *Cluster) Holders(key, value []byte) int {
	n := 0
	for _, name := range c.Acceptors {
		_, accepted, err := c.stores[name].Get(key)
		if err != nil {
			continue
		}
		if payload, ok := accepted.Payload(); ok && bytes.Equal(payload, value) {
			n++
		}
	}
	return n
}

// Report summarizes a simulation run.
type Report struct {
	Decisions  []paxos.Decision
	Failures   int
	Violations []string
	Net        transport.SimStats
}

func (r Report) OK() bool { return len(r.Violations) == 0 }

// Simulate runs cfg.Rounds proposals from every proposer concurrently and
// checks that each key settled on a single value held by a majority, and that
// no acceptor ever moved backwards. A proposal that runs out of attempts is
// counted as a failure, not an error.
func Simulate(ctx context.Context, cfg Config) (Report, error) {
	cfg = cfg.withDefaults()
	cluster := NewCluster(cfg)

	var (
		mu     sync.Mutex
		report Report
		wg     sync.WaitGroup
		fatal  error
	)
	for i, client := range cluster.Clients {
		wg.Add(1)
		go func(i int, client *paxos.Client) {
			defer wg.Done()
			for r := 0; r < cfg.Rounds; r++ {
				key := []byte(fmt.Sprintf("key-%d", (i+r)%cfg.Keys))
				value := []byte(fmt.Sprintf("%s/round-%d", cluster.Proposers[i], r))
				d, err := client.Propose(ctx, key, value)

				mu.Lock()
				switch {
				case err == nil:
					report.Decisions = append(report.Decisions, d)
				case errors.Is(err, paxos.ErrNoQuorum):
					report.Failures++
				default:
					if fatal == nil {
						fatal = err
					}
				}
				mu.Unlock()
				if ctx.Err() != nil {
					return
				}
			}
		}(i, client)
	}
	wg.Wait()
	if fatal != nil {
		return report, fatal
	}

	report.Violations = append(report.Violations, checkAgreement(report.Decisions)...)
	majority := len(cluster.Acceptors)/2 + 1
	for _, d := range agreed(report.Decisions) {
		if n := cluster.Holders(d.Key, d.Value); n < majority {
			report.Violations = append(report.Violations,
				fmt.Sprintf("%q: decided %q but only %d acceptors hold it", d.Key, d.Value, n))
		}
	}
	report.Violations = append(report.Violations, cluster.Violations()...)
	report.Net = cluster.Net.Stats()
	return report, nil
}

// checkAgreement reports every key that was decided with two different values.
func checkAgreement(decisions []paxos.Decision) []string {
	first := make(map[string]paxos.Decision)
	var out []string
	for _, d := range decisions {
		prev, ok := first[string(d.Key)]
		if !ok {
			first[string(d.Key)] = d
			continue
		}
		if !bytes.Equal(prev.Value, d.Value) {
			out = append(out, fmt.Sprintf("%q: decided both %q (ballot %d) and %q (ballot %d)",
				d.Key, prev.Value, prev.Ballot, d.Value, d.Ballot))
		}
	}
	return out
}

// agreed returns one decision per key, ordered by key.
func agreed(decisions []paxos.Decision) []paxos.Decision {
	byKey := make(map[string]paxos.Decision)
	for _, d := range decisions {
		if _, ok := byKey[string(d.Key)]; !ok {
			byKey[string(d.Key)] = d
		}
	}
	out := make([]paxos.Decision, 0, len(byKey))
	for _, d := range byKey {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key, out[j].Key) < 0 })
	return out
}
