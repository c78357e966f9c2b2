// Package paxos implements single-decree Paxos per key over an unreliable
// request/response network.
//
// A Client drives the two phases for one key: it picks a ballot, collects
// promises from a majority of acceptors, adopts the highest value any of them
// already accepted (or its own value when there is none), and asks the
// acceptors to accept it. A Server answers those requests against a Storage
// that keeps, per key, the highest promised ballot and the accepted value.
//
// Both roles only see the Net interface, so the same code runs over UDP and
// over the simulated network used in tests.
package paxos
