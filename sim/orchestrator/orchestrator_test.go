package orchestrator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// socketPath keeps unix socket paths short; t.TempDir() can exceed the sun_path limit.
func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "orch")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "r.sock")
}

func TestParseDebugFlags_EnableAndDisable(t *testing.T) {
	got := ParseDebugFlags("Exec,-Cache, ,TLB")
	assert.Equal(t, []FlagToggle{
		{Name: "Exec", Enable: true},
		{Name: "Cache", Enable: false},
		{Name: "TLB", Enable: true},
	}, got)
}

func TestParseDebugFlags_Empty(t *testing.T) {
	assert.Empty(t, ParseDebugFlags(""))
}

func TestRequest_Payload_OmitsEmptyArguments(t *testing.T) {
	p := Request{Function: FunctionStatus, ResponseSocket: "/tmp/x.sock"}.Payload()
	assert.Equal(t, map[string]string{"function": "status", "response_socket": "/tmp/x.sock"}, p)

	p = Request{Function: FunctionUpdateDebugFlags, Arguments: "A,-B", ResponseSocket: "/s"}.Payload()
	assert.Equal(t, "A,-B", p[KeyArguments])
}

func TestRespond_AwaitReceivesOneJSONObject(t *testing.T) {
	// GIVEN a requester listening on a socket
	l, err := Listen(socketPath(t))
	require.NoError(t, err)
	defer l.Close()

	done := make(chan []byte, 1)
	go func() {
		body, err := l.Await(2 * time.Second)
		if err != nil {
			done <- nil
			return
		}
		done <- body
	}()

	// WHEN the simulator side responds
	id := "run1"
	err = Respond(l.Path(), Status{Workload: "wl", Tick: 42, SimID: &id, InstructionsExecuted: 7}, time.Second)
	require.NoError(t, err)

	// THEN the requester reads exactly that object
	body := <-done
	require.NotNil(t, body)
	assert.JSONEq(t, `{"workload":"wl","tick":42,"sim_id":"run1","curr_instructions_executed":7}`, string(body))
}

func TestRespond_NullSimID(t *testing.T) {
	l, err := Listen(socketPath(t))
	require.NoError(t, err)
	defer l.Close()

	done := make(chan []byte, 1)
	go func() {
		body, _ := l.Await(2 * time.Second)
		done <- body
	}()
	require.NoError(t, Respond(l.Path(), Status{Workload: "wl"}, time.Second))
	assert.JSONEq(t, `{"workload":"wl","tick":0,"sim_id":null,"curr_instructions_executed":0}`, string(<-done))
}

func TestRespond_UnreachableSocket_ReturnsError(t *testing.T) {
	err := Respond(filepath.Join(os.TempDir(), "does-not-exist.sock"), ErrorResponse{Error: "x"}, 100*time.Millisecond)
	assert.Error(t, err)
}

func TestRespond_EmptyPath_ReturnsError(t *testing.T) {
	assert.Error(t, Respond("", ErrorResponse{}, time.Second))
}

func TestAwait_TimesOutWithoutPeer(t *testing.T) {
	l, err := Listen(socketPath(t))
	require.NoError(t, err)
	defer l.Close()

	_, err = l.Await(50 * time.Millisecond)
	assert.Error(t, err)
}

func TestListen_ReplacesStaleSocketFile(t *testing.T) {
	path := socketPath(t)
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o600))

	l, err := Listen(path)
	require.NoError(t, err)
	assert.NoError(t, l.Close())
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "socket file must be removed on Close")
}
