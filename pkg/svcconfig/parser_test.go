package svcconfig

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-svc/lattice/pkg/graph"
)

func TestParseBasicProcess(t *testing.T) {
	src := `
# a comment line
type = process
command = /usr/bin/webd --port 8080
stop-command = /usr/bin/webd-stop
depends-on = network
waits-for = logging
before = shutdown
restart = on-failure
restart-limit = 3
restart-window = 10s
start-timeout = 5s
stop-timeout = 5s
chain-to = webd-ready
log-buffer = 500
options += starts-on-console
options += always-chain
`
	d, err := Parse(strings.NewReader(src), "webd", "webd")
	require.NoError(t, err)

	assert.Equal(t, graph.KindProcess, d.Kind)
	assert.Equal(t, []string{"/usr/bin/webd", "--port", "8080"}, d.Command)
	assert.Equal(t, []string{"/usr/bin/webd-stop"}, d.StopCommand)
	assert.Equal(t, graph.RestartOnFailure, d.Restart)
	assert.Equal(t, 3, d.RestartLimit)
	assert.Equal(t, 10*time.Second, d.RestartWindow)
	assert.Equal(t, 5*time.Second, d.StartTimeout)
	assert.Equal(t, "webd-ready", d.ChainTo)
	assert.Equal(t, 500, d.LogCapacity)
	assert.True(t, d.OnStart.StartsOnConsole)
	assert.True(t, d.OnStart.AlwaysChain)

	require.Len(t, d.Depends, 3)
	assert.Equal(t, DepEntry{Name: "network", Type: graph.Regular}, d.Depends[0])
	assert.Equal(t, DepEntry{Name: "logging", Type: graph.WaitsFor}, d.Depends[1])
	assert.Equal(t, DepEntry{Name: "shutdown", Type: graph.Before}, d.Depends[2])
}

func TestParseUnknownSettingFails(t *testing.T) {
	_, err := Parse(strings.NewReader("bogus-setting = x\n"), "svc", "svc")
	require.Error(t, err)

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "svc", perr.File)
	assert.Equal(t, 1, perr.Line)
}

func TestParseUnknownKindFails(t *testing.T) {
	_, err := Parse(strings.NewReader("type = nonsense\n"), "svc", "svc")
	require.Error(t, err)
}

func TestParseOptionsAccumulate(t *testing.T) {
	src := "options += runs-on-console\noptions += rw-ready\noptions += log-ready\n"
	d, err := Parse(strings.NewReader(src), "svc", "svc")
	require.NoError(t, err)
	assert.True(t, d.OnStart.RunsOnConsole)
	assert.True(t, d.OnStart.RWReady)
	assert.True(t, d.OnStart.LogReady)
}
