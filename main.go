package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"cs.umass.edu/griyakv/internal/config"
	"cs.umass.edu/griyakv/internal/paxos"
	"cs.umass.edu/griyakv/internal/simulator"
	"cs.umass.edu/griyakv/internal/transport"
)

type args struct {
	nodeID     uint64
	roles      []string
	configPath string
	simulate   bool
	seed       int64
}

// handle args given by user
func parseArgs(fs *flag.FlagSet, argv []string) (args, error) {
	var (
		nodeID     = fs.Int("id", 0, "griyakv node id, index into the peer list (default 0)")
		roles      = fs.String("roles", "acceptor", "Role(s) of the node, separate them with comma.\nValid roles: acceptor,proposer.\nExample: acceptor,proposer.\n")
		configPath = fs.String("config", "", "YAML cluster configuration (default: 3 acceptors on localhost)")
		simulate   = fs.Bool("simulate", false, "run a simulated cluster with message loss and exit")
		seed       = fs.Int64("seed", 1, "random seed of the simulated network")
	)

	if err := fs.Parse(argv); err != nil {
		return args{}, err
	}
	if *nodeID < 0 || *nodeID > 0xffff {
		return args{}, fmt.Errorf(
			"node id should be between 0 and 65535 (%d)",
			*nodeID,
		)
	}
	rolesArr := strings.Split(*roles, ",")
	for i := 0; i < len(rolesArr); i++ {
		if rolesArr[i] != "acceptor" && rolesArr[i] != "proposer" {
			return args{}, fmt.Errorf(
				"wrong role given (%s), valid roles are 'acceptor' and 'proposer'",
				rolesArr[i],
			)
		}
	}

	return args{
		nodeID:     uint64(*nodeID),
		roles:      rolesArr,
		configPath: *configPath,
		simulate:   *simulate,
		seed:       *seed,
	}, nil
}

func hasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func runSimulation(seed int64) error {
	cfg := simulator.Config{
		Acceptors: 5,
		Proposers: 3,
		Keys:      4,
		Rounds:    10,
		Seed:      seed,
		Faults: transport.Faults{
			DropRequest:  0.1,
			DropResponse: 0.1,
			Duplicate:    0.05,
			MaxDelay:     5 * time.Millisecond,

			DuplicateRequest: 0.05,
			DuplicateLag:     50 * time.Millisecond,
		},
		Client: paxos.ClientConfig{
			Timeout:      50 * time.Millisecond,
			MaxAttempts:  20,
			RetryBackoff: 5 * time.Millisecond,
		},
	}
	report, err := simulator.Simulate(context.Background(), cfg)
	if err != nil {
		return err
	}
	fmt.Printf("griyakv:: %d decisions, %d failed proposals, net %+v\n",
		len(report.Decisions), report.Failures, report.Net)
	for _, v := range report.Violations {
		fmt.Println("VIOLATION:", v)
	}
	if !report.OK() {
		return fmt.Errorf("%d violations", len(report.Violations))
	}
	return nil
}

func main() {
	fmt.Println(":: replicated paxos key/value register (griyakv) ::")

	// parsing the args given by user
	a, err := parseArgs(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Println(err.Error())
		os.Exit(2)
	}

	if a.simulate {
		if err := runSimulation(a.seed); err != nil {
			fmt.Println(err.Error())
			os.Exit(1)
		}
		return
	}

	cluster, err := config.Load(a.configPath)
	if err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}

	// the proposer shares the acceptor socket when the node plays both roles
	var net *transport.UDP
	if hasRole(a.roles, "acceptor") {
		node, err := StartAcceptor(a.nodeID, cluster)
		if err != nil {
			fmt.Println(err.Error())
			os.Exit(1)
		}
		net = node.Net
		go RunAcceptorServer(node, cluster.Acceptor.HTTPBase+int(a.nodeID))
	}
	if hasRole(a.roles, "proposer") {
		if net == nil {
			net, err = transport.ListenUDP(":0", nil)
			if err != nil {
				fmt.Println(err.Error())
				os.Exit(1)
			}
		}
		cc := cluster.ClientConfig(uint16(a.nodeID))
		cc.MaxEnvelope = transport.MaxDatagram
		client := paxos.NewClient(cc, cluster.Peers, net)
		go RunProposerServer(a.nodeID, client, cluster.Proposer.HTTPBase+int(a.nodeID))
	}

	// does not exit the program until all the goroutines are finished
	runtime.Goexit()
}
