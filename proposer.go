package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"cs.umass.edu/griyakv/internal/paxos"
)

// Proposer is the part of paxos.Client the HTTP API needs.
type Proposer interface {
	Propose(ctx context.Context, key, value []byte) (paxos.Decision, error)
	Get(ctx context.Context, key []byte) (paxos.Decision, bool, error)
	Reachable(ctx context.Context) map[string]bool
}

// RunProposerServer receives client requests and coordinates them with the
// acceptors.
func RunProposerServer(proposerID uint64, p Proposer, port int) {
	proposerHost := fmt.Sprintf(":%d", port)
	proposerServer := &http.Server{
		Addr:    proposerHost,
		Handler: initProposerHandler(p),
		// a proposal may need several rounds
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	fmt.Println("griyakv:: starting proposer", proposerID, "on", proposerHost)
	err := proposerServer.ListenAndServe()
	if err != nil {
		panic(err)
	}
}

func initProposerHandler(p Proposer) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery())
	e.Use(gin.Logger())

	e.PUT("/kv/:key", handlePut(p))
	e.GET("/kv/:key", handleGet(p))
	e.GET("/peers", func(c *gin.Context) {
		c.JSON(http.StatusOK, p.Reachable(c.Request.Context()))
	})

	return e
}

func handlePut(p Proposer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var uri KeyURI
		if err := c.ShouldBindUri(&uri); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "error": err.Error()})
			return
		}
		data, err := io.ReadAll(c.Request.Body)
		if err != nil {
			fmt.Println("failed to read client request", err)
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "error": "failed to read the request"})
			return
		}

		d, err := p.Propose(c.Request.Context(), []byte(uri.Key), data)
		if err != nil {
			writeConsensusError(c, err)
			return
		}
		c.JSON(http.StatusOK, ValueResponse{
			Key:    uri.Key,
			Value:  string(d.Value),
			Ballot: d.Ballot,
			Own:    d.Own,
		})
	}
}

func handleGet(p Proposer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var uri KeyURI
		if err := c.ShouldBindUri(&uri); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "error": err.Error()})
			return
		}

		d, found, err := p.Get(c.Request.Context(), []byte(uri.Key))
		if err != nil {
			writeConsensusError(c, err)
			return
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "error": "no value for " + uri.Key})
			return
		}
		c.JSON(http.StatusOK, ValueResponse{Key: uri.Key, Value: string(d.Value), Ballot: d.Ballot})
	}
}

func writeConsensusError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	msg := err.Error()
	switch {
	case errors.Is(err, paxos.ErrNoQuorum):
		// not enough acceptors answered, the client can try again later
		code = http.StatusServiceUnavailable
		msg = "please try again later: " + msg
	case errors.Is(err, paxos.ErrTooLarge):
		code = http.StatusRequestEntityTooLarge
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	}
	c.JSON(code, gin.H{"code": code, "error": msg})
}
