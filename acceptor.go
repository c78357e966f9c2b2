package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"cs.umass.edu/griyakv/internal/config"
	"cs.umass.edu/griyakv/internal/paxos"
	"cs.umass.edu/griyakv/internal/storage"
	"cs.umass.edu/griyakv/internal/transport"
)

// AcceptorNode is a running acceptor: its storage and the UDP socket it
// answers on.
type AcceptorNode struct {
	ID    uint64
	Store paxos.Storage
	Net   *transport.UDP

	closeStore func() error
}

// StartAcceptor opens the storage of acceptor id and starts answering
// Prepare, Accept and Ping on its configured peer address.
func StartAcceptor(id uint64, cluster config.Cluster) (*AcceptorNode, error) {
	if id >= uint64(len(cluster.Peers)) {
		return nil, fmt.Errorf("acceptor %d has no address, %d peers configured", id, len(cluster.Peers))
	}
	addr := cluster.Peers[id]

	node := &AcceptorNode{ID: id, closeStore: func() error { return nil }}
	if dir := cluster.Acceptor.DataDir; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		db, err := storage.OpenBolt(filepath.Join(dir, fmt.Sprintf("acceptor-%d.db", id)))
		if err != nil {
			return nil, err
		}
		node.Store, node.closeStore = db, db.Close
	} else {
		node.Store = storage.NewMemory()
	}

	udp, err := transport.ListenUDP(addr, paxos.NewServer(addr, node.Store))
	if err != nil {
		node.closeStore()
		return nil, err
	}
	node.Net = udp
	fmt.Println("griyakv:: acceptor", id, "listening on udp", udp.Addr())
	return node, nil
}

func (n *AcceptorNode) Close() error {
	err := n.Net.Close()
	if cerr := n.closeStore(); err == nil {
		err = cerr
	}
	return err
}

// RunAcceptorServer serves the inspection API of an acceptor.
func RunAcceptorServer(node *AcceptorNode, port int) {
	acceptorHost := fmt.Sprintf(":%d", port)
	acceptorServer := &http.Server{
		Addr:         acceptorHost,
		Handler:      initAcceptorHandler(node.Store),
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	}

	fmt.Println("griyakv:: starting acceptor", node.ID, "on", acceptorHost)
	err := acceptorServer.ListenAndServe()
	if err != nil {
		panic(err)
	}
}

func initAcceptorHandler(store paxos.Storage) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery())
	e.Use(gin.Logger())

	e.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	e.GET("/acceptor/:key", handleAcceptorState(store))

	return e
}

func handleAcceptorState(store paxos.Storage) gin.HandlerFunc {
	fn := func(c *gin.Context) {
		var uri KeyURI
		if err := c.ShouldBindUri(&uri); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "error": err.Error()})
			return
		}

		promised, accepted, err := store.Get([]byte(uri.Key))
		if err != nil {
			fmt.Println("failed to read acceptor state", err)
			c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, AcceptorStateResponse{
			Key:      uri.Key,
			Promised: promised,
			Accepted: accepted,
		})
	}

	return gin.HandlerFunc(fn)
}
