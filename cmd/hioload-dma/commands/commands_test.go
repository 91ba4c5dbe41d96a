package commands_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/momentics/hioload-dma/api"
	"github.com/momentics/hioload-dma/cmd/hioload-dma/commands"
	"github.com/momentics/hioload-dma/control"
)

func TestRunBench(t *testing.T) {
	var out bytes.Buffer
	res, err := commands.RunBench(context.Background(), control.Default(),
		commands.BenchOptions{Rounds: 20, Size: 3000, Dump: true}, zerolog.Nop(), &out)
	require.NoError(t, err)

	assert.Equal(t, 20, res.Rounds)
	assert.Equal(t, int64(60000), res.Bytes)
	assert.Equal(t, res.Bytes, res.Received)
	assert.Equal(t, int64(2), res.Pins, "one pin per side")
	assert.Positive(t, res.Hits)
	assert.Contains(t, out.String(), "engine.ports")
}

func TestRunBenchRejectsBadOptions(t *testing.T) {
	cfg := control.Default()
	_, err := commands.RunBench(context.Background(), cfg,
		commands.BenchOptions{Rounds: 1, Size: cfg.MaxBlockLen + 1}, zerolog.Nop(), &bytes.Buffer{})
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	_, err = commands.RunBench(context.Background(), cfg,
		commands.BenchOptions{Rounds: 0, Size: 10}, zerolog.Nop(), &bytes.Buffer{})
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestRunBenchHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := commands.RunBench(ctx, control.Default(),
		commands.BenchOptions{Rounds: 5, Size: 10}, zerolog.Nop(), &bytes.Buffer{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfigCommandPrintsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hioload-dma.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache_capacity: 4\npool:\n  depth: 8\n"), 0o600))

	cmd := commands.NewConfigCmd()
	cmd.Flags().String("config", "", "")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", path})
	require.NoError(t, cmd.Execute())

	var got control.Config
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, 4, got.CacheCapacity)
	assert.Equal(t, 8, got.Pool.Depth)
	assert.Equal(t, control.Default().MaxBlockLen, got.MaxBlockLen)
}

func TestBenchCommand(t *testing.T) {
	cmd := commands.NewBenchCmd()
	cmd.Flags().String("config", "", "")
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"--rounds", "3", "--size", "128"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "rounds=3 bytes=384")
}
