package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"cs.umass.edu/griyakv/internal/paxos"
)

func TestLoadWithoutPathReturnsDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
	assert.NoError(t, c.Validate())
	assert.Len(t, c.Peers, 3)
}

func TestParseOverridesDefaults(t *testing.T) {
	raw := []byte(`
peers: ["10.0.0.1:7000", "10.0.0.2:7000", "10.0.0.3:7000", "10.0.0.4:7000", "10.0.0.5:7000"]
proposer:
  timeout: 250ms
  retry_backoff: 1s
acceptor:
  data_dir: /var/lib/griyakv
`)
	c := Default()
	require.NoError(t, Parse(raw, &c))

	assert.Len(t, c.Peers, 5)
	assert.Equal(t, Duration(250*time.Millisecond), c.Proposer.Timeout)
	assert.Equal(t, Duration(time.Second), c.Proposer.RetryBackoff)
	assert.Equal(t, paxos.DefaultClientConfig().MaxAttempts, c.Proposer.MaxAttempts, "unset fields keep their default")
	assert.Equal(t, "/var/lib/griyakv", c.Acceptor.DataDir)
	assert.Equal(t, 9800, c.Acceptor.HTTPBase)
}

func TestParseRejectsBadInput(t *testing.T) {
	tests := map[string]string{
		"bad duration":   "proposer:\n  timeout: soon\n",
		"duplicate peer": "peers: [a:1, a:1]\n",
		"no peers":       "peers: []\n",
		"zero attempts":  "proposer:\n  max_attempts: 0\n",
		"zero timeout":   "proposer:\n  timeout: 0s\n",
		"not yaml":       "peers: [",
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			c := Default()
			assert.Error(t, Parse([]byte(raw), &c))
		})
	}
}

func TestDurationMarshal(t *testing.T) {
	out, err := yaml.Marshal(Proposer{Timeout: Duration(1500 * time.Millisecond)})
	require.NoError(t, err)
	assert.Contains(t, string(out), "timeout: 1.5s")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cluster.yaml")
	require.NoError(t, os.WriteFile(path, []byte("peers: [\"127.0.0.1:1\"]\n"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.1:1"}, c.Peers)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestClientConfig(t *testing.T) {
	c := Default()
	c.Proposer.Timeout = Duration(time.Second)
	c.Proposer.BallotStep = 4

	cc := c.ClientConfig(7)
	assert.Equal(t, uint16(7), cc.ID)
	assert.Equal(t, time.Second, cc.Timeout)
	assert.Equal(t, uint64(4), cc.BallotStep)
	assert.Equal(t, c.Proposer.MaxAttempts, cc.MaxAttempts)
	assert.Equal(t, time.Duration(c.Proposer.RetryBackoff), cc.RetryBackoff)
}
