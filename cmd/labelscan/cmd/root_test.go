package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"image/color"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/labelscan/internal/capture"
	"github.com/MeKo-Tech/labelscan/internal/config"
	"github.com/MeKo-Tech/labelscan/internal/fields"
	"github.com/MeKo-Tech/labelscan/internal/store"
	"github.com/MeKo-Tech/labelscan/internal/testutil"
	"github.com/MeKo-Tech/labelscan/internal/version"
)

// execute runs the root command with args in an isolated environment.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))

	viper.Reset()
	cfgFile = ""
	globalConfig = nil
	t.Cleanup(func() {
		viper.Reset()
		slog.SetDefault(slog.New(slog.DiscardHandler))
	})

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "labelscan", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)

	names := make([]string, 0, len(rootCmd.Commands()))
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "scan", "history", "config"} {
		assert.Contains(t, names, want)
	}
}

func TestRootCommandHelp(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "shipping labels")
	assert.Contains(t, out, "Available Commands:")
}

func TestRootCommandVersion(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, version.Version)
	assert.Contains(t, out, "labelscan")
}

func TestRootCommand_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: loud\n"), 0o600))

	_, err := execute(t, "--config", path, "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestLogLevel(t *testing.T) {
	tests := []struct {
		level   string
		verbose bool
		want    slog.Level
	}{
		{"debug", false, slog.LevelDebug},
		{"info", false, slog.LevelInfo},
		{"warn", false, slog.LevelWarn},
		{"error", false, slog.LevelError},
		{"bogus", false, slog.LevelInfo},
		{"error", true, slog.LevelDebug},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.want, logLevel(&config.Config{LogLevel: tt.level, Verbose: tt.verbose}))
		})
	}
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labelscan.yaml")

	out, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration written to "+path)
	assert.FileExists(t, path)

	_, err = execute(t, "config", "init", path)
	require.Error(t, err, "init never overwrites")

	out, err = execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "# config file: "+path)
	assert.Contains(t, out, "header_fraction: 0.4")
	assert.Contains(t, out, "LABELSCAN_")
}

func TestConfigShow_BrokenValuesStillPrint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labelscan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 0\n"), 0o600))

	out, err := execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "# warning: invalid server port")
}

func TestScanCommand(t *testing.T) {
	t.Run("needs files", func(t *testing.T) {
		_, err := execute(t, "scan")
		require.Error(t, err)
	})

	t.Run("unsupported format", func(t *testing.T) {
		_, err := execute(t, "scan", "x.png", "--format", "xml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported output format")
	})

	t.Run("record without store", func(t *testing.T) {
		_, err := execute(t, "scan", "x.png", "--format", "json", "--record")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--record needs a store")
	})

	t.Run("missing file is reported per result", func(t *testing.T) {
		out, err := execute(t, "scan", "missing.png", "--format", "json", "--record=false")
		require.NoError(t, err)
		var results []map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &results))
		require.Len(t, results, 1)
		assert.Equal(t, "missing.png", results[0]["source"])
		assert.NotEmpty(t, results[0]["error"])
	})
}

func TestHistoryCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "scans.db")
	rec, err := store.Open(dbPath)
	require.NoError(t, err)
	tracking := "SPXID012345678901"
	require.NoError(t, rec.Record(context.Background(), "0192f7a0-0000-7000-8000-000000000001", &fields.FieldSet{
		TrackingID: &tracking,
		Confidence: 0.87,
		Source:     fields.SourceBarcode,
	}))
	require.NoError(t, rec.Close())

	t.Run("no store", func(t *testing.T) {
		_, err := execute(t, "history", "--store", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no history store configured")
	})

	t.Run("table", func(t *testing.T) {
		out, err := execute(t, "history", "--store", dbPath, "--format", "text")
		require.NoError(t, err)
		assert.Contains(t, out, "SCAN ID")
		assert.Contains(t, out, tracking)
		assert.Contains(t, out, "barcode")
		assert.Contains(t, out, "0.87")
	})

	t.Run("single entry as json", func(t *testing.T) {
		out, err := execute(t, "history", "--store", dbPath, "--format", "json", "0192f7a0-0000-7000-8000-000000000001")
		require.NoError(t, err)
		var entries []store.Entry
		require.NoError(t, json.Unmarshal([]byte(out), &entries))
		require.Len(t, entries, 1)
		assert.Equal(t, tracking, *entries[0].Fields.TrackingID)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := execute(t, "history", "--store", dbPath, "nope")
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}

func serveTestConfig(t *testing.T, port int) *config.Config {
	t.Helper()
	dir := t.TempDir()
	img := filepath.Join(dir, "label.png")
	testutil.SaveImage(t, imaging.New(320, 240, color.White), img)

	cfg := config.DefaultConfig()
	cfg.Server.Port = port
	cfg.Server.ShutdownTimeout = 2
	cfg.Camera.Image = img
	cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FPS = 320, 240, 10
	cfg.Store.Path = filepath.Join(dir, "scans.db")
	return cfg
}

func TestRunServer_ShutsDownOnCancel(t *testing.T) {
	cfg := serveTestConfig(t, freePort(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runServer(ctx, cfg, nil, slog.New(slog.DiscardHandler))
	}()

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	require.Eventually(t, func() bool {
		c, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		_ = c.Close()
		return true
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestRunServer_ListenError(t *testing.T) {
	l, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	cfg := serveTestConfig(t, l.Addr().(*net.TCPAddr).Port)
	cfg.Camera.Enabled = false
	var open capture.Opener
	err = runServer(context.Background(), cfg, open, slog.New(slog.DiscardHandler))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server failed")
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}
