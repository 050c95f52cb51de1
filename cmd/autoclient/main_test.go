package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/autoclient/internal/automation"
	"github.com/mattjoyce/autoclient/internal/automation/mocks"
	"github.com/mattjoyce/autoclient/internal/cluster"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "autoclient.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRootRegistersCommands(t *testing.T) {
	root := newRootCmd()
	found := map[string]bool{}
	for _, sub := range root.Commands() {
		found[sub.Name()] = true
		if sub.Name() == "worker" {
			assert.True(t, sub.Hidden, "worker is started by the master only")
		}
	}
	for _, name := range []string{"run", "worker", "config", "version"} {
		assert.True(t, found[name], "missing %s command", name)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestVersionFlag(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, "autoclient 0.1.0-dev\n", out)
}

func TestVersionJSON(t *testing.T) {
	out, err := execute(t, "version", "--json")
	require.NoError(t, err)

	var info versionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "0.1.0-dev", info.Version)
	assert.NotEmpty(t, info.Commit)
}

func TestShortenCommit(t *testing.T) {
	assert.Equal(t, "abc", shortenCommit("abc"))
	assert.Equal(t, "0123456789ab", shortenCommit("0123456789abcdef"))
}

func TestConfigCheck(t *testing.T) {
	path := writeConfig(t, `
api_key: k-1
workspace_ids: [T1]
cluster:
  enabled: true
  workers: 2
  max_concurrent_per_worker: 3
`)
	out, err := execute(t, "--config", path, "config", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "config OK: autoclient 0.1.0")
	assert.Contains(t, out, "ws=true http=true")
	assert.Contains(t, out, "cluster: 2 workers, 3 concurrent each, backoff threshold 6")
	assert.Contains(t, out, "blake3: ")
}

func TestConfigCheckErrors(t *testing.T) {
	_, err := execute(t, "config", "check")
	assert.ErrorContains(t, err, "--config is required")

	path := writeConfig(t, "api_key: k-1\n")
	_, err = execute(t, "--config", path, "config", "check")
	assert.ErrorContains(t, err, "workspace_ids")

	_, err = execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "config", "check")
	assert.Error(t, err)
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	path := writeConfig(t, `
api_key: super-secret
workspace_ids: [T1]
http:
  listen: 127.0.0.1:9999
  auth:
    tokens:
      - token: token-secret
        scopes: [command:rw]
`)
	out, err := execute(t, "--config", path, "--log-level", "debug", "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "super-secret")
	assert.NotContains(t, out, "token-secret")
	assert.Contains(t, out, redacted)
	assert.Contains(t, out, "command:rw")
	assert.Contains(t, out, "level: debug")
}

func TestWorkerRequiresWorkerID(t *testing.T) {
	t.Setenv(cluster.WorkerIDEnv, "")
	_, err := execute(t, "worker")
	assert.ErrorContains(t, err, cluster.WorkerIDEnv)
}

func TestBuiltinHandlers(t *testing.T) {
	reg, err := builtinHandlers()
	require.NoError(t, err)

	cmds := reg.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, "HelloWorld", cmds[0].Name)
	evs := reg.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, "NotifyPush", evs[0].Name)
}

func TestHelloWorld(t *testing.T) {
	ctrl := gomock.NewController(t)
	mc := mocks.NewMockMessageClient(ctrl)
	mc.EXPECT().Respond(gomock.Any(), "Hello, ada!", gomock.Nil()).Return(nil)

	cmd := &automation.Command{
		Command:    "HelloWorld",
		Parameters: []automation.Arg{{Name: "name", Value: "ada"}},
	}
	res, err := helloWorld(context.Background(), cmd, &automation.HandlerContext{MessageClient: mc})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Code)
}

func TestNotifyPush(t *testing.T) {
	ctrl := gomock.NewController(t)
	mc := mocks.NewMockMessageClient(ctrl)
	mc.EXPECT().Send(gomock.Any(), "acme/api@main pushed 0123456", []automation.Destination{{
		UserAgent: "slack",
		Team:      "T1",
		Channels:  []string{"dev", "ops"},
	}}, gomock.Nil()).Return(nil)

	ev := &automation.Event{
		Data: json.RawMessage(`{"Push":[
			{"sha":"0123456789","branch":"main","repo":{"name":"api","owner":"acme","channels":[{"name":"dev"},{"name":"ops"}]}},
			{"sha":"fedcba","branch":"wip","repo":{"name":"scratch","owner":"acme","channels":[]}}
		]}`),
		Extensions: automation.EventExtensions{TeamID: "T1", OperationName: "OnPush"},
	}
	res, err := notifyPush(context.Background(), ev, &automation.HandlerContext{MessageClient: mc})
	require.NoError(t, err)
	assert.Equal(t, "1 notifications sent", res.Message)
}

func TestNotifyPushRejectsBadData(t *testing.T) {
	ev := &automation.Event{Data: json.RawMessage(`[`)}
	_, err := notifyPush(context.Background(), ev, &automation.HandlerContext{})
	assert.ErrorContains(t, err, "decode push")
}
