package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d1nch8g/convo/engine"
)

func TestPrintStatus(t *testing.T) {
	tests := []struct {
		ev   engine.StatusEvent
		want string
	}{
		{ev: engine.StatusEvent{Status: engine.StatusConnecting}, want: "Connecting...\n"},
		{ev: engine.StatusEvent{Status: engine.StatusConnected, AgentID: "a1"}, want: "Connected & streaming to a1\n"},
		{ev: engine.StatusEvent{Status: engine.StatusDisconnected}, want: "Ready to connect\n"},
		{ev: engine.StatusEvent{Status: engine.StatusError, Err: errors.New("refused")}, want: "Connection error: refused\n"},
	}
	for _, tt := range tests {
		t.Run(tt.ev.Status.String(), func(t *testing.T) {
			var out bytes.Buffer
			printStatus(&out, tt.ev)
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestRootCmdFlags(t *testing.T) {
	cmd := rootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--agent", "e4adba25", "--autostart", "--metrics-addr", ":9090", "-c", "convo.yaml"}))

	assert.Equal(t, "e4adba25", agentID)
	assert.True(t, autostart)
	assert.Equal(t, ":9090", metricsAddr)
	assert.Equal(t, "convo.yaml", cfgFile)
	assert.False(t, cmd.Flags().Changed("log-level"))
}
