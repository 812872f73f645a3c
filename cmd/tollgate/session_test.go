package main

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"mercator-hq/tollgate/pkg/session"
)

func TestSessionCommands(t *testing.T) {
	cfgPath := writeConfig(t, "")

	svc := openTestServices(t, cfgPath)
	created, err := svc.sessions.CreateSession(context.Background(), "alice", session.ClientMeta{IP: "10.0.0.1"})
	require.NoError(t, err)

	out, err := execute(t, cfgPath, "session", "show", "alice", "-o", "json")
	require.NoError(t, err)
	var view sessionView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	require.True(t, view.Active)
	require.Equal(t, created.ID, view.Session.ID)

	out, err = execute(t, cfgPath, "session", "show", "alice")
	require.NoError(t, err)
	require.Contains(t, out, created.ID)
	require.Contains(t, out, "10.0.0.1")

	out, err = execute(t, cfgPath, "session", "clear", "alice")
	require.NoError(t, err)
	require.Contains(t, out, "session of alice cleared")

	out, err = execute(t, cfgPath, "session", "show", "alice", "-o", "json")
	require.NoError(t, err)
	view = sessionView{}
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	require.False(t, view.Active)
	require.Nil(t, view.Session)

	out, err = execute(t, cfgPath, "session", "sweep")
	require.NoError(t, err)
	require.Contains(t, out, "0 expired sessions terminated")
}
