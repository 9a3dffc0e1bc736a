package commands

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/moolen/depman/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestInitWritesExampleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundles.yaml")

	out, err := execute(t, "init", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote example runtime file")

	file, err := config.LoadRuntimeFile(path)
	require.NoError(t, err)
	assert.Len(t, file.Bundles, 2)

	_, err = execute(t, "init", "-c", path)
	assert.ErrorContains(t, err, "already exists")

	_, err = execute(t, "init", "-c", path, "--force")
	assert.NoError(t, err)
	initForce = false
}

func TestInspectExampleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundles.yaml")
	require.NoError(t, config.WriteRuntimeFile(path, config.ExampleRuntimeFile()))

	out, err := execute(t, "inspect", "-c", path, "--color", "never")
	require.NoError(t, err)
	assert.Contains(t, out, "Component: Name=logger")
	assert.Contains(t, out, "State=TRACKING_OPTIONAL, Bundle=2 (greeter)")

	out, err = execute(t, "inspect", "-c", path, "--color", "never", "wtf")
	require.NoError(t, err)
	assert.Contains(t, out, "No problem all 2 dependency manager components are active")

	out, err = execute(t, "inspect", "-c", path, "--color", "never", "uml")
	require.NoError(t, err)
	assert.Contains(t, out, "greeter *--> example.Logger")
	assert.Contains(t, out, "greeter ..> example.Metrics")
}

func TestInspectRejectsBadColor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundles.yaml")
	require.NoError(t, config.WriteRuntimeFile(path, config.ExampleRuntimeFile()))

	_, err := execute(t, "inspect", "-c", path, "--color", "sometimes")
	assert.ErrorContains(t, err, "invalid --color")
	inspectColor = "auto"
}

func TestBuildRuntime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundles.yaml")
	require.NoError(t, config.WriteRuntimeFile(path, config.ExampleRuntimeFile()))

	cfg := config.DefaultConfig()
	cfg.RuntimeFilePath = path
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.ShutdownTimeout = 5 * time.Second
	require.NoError(t, cfg.Validate())

	reg := prometheus.NewRegistry()
	manager, err := buildRuntime(cfg, reg, reg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, manager.Start(ctx))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "depman_component_state")

	assert.NoError(t, manager.Stop(ctx))
}
