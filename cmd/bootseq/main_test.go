package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/knadh/koanf/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mkock/bootseq/v3"
	"github.com/mkock/bootseq/v3/internal/config"
	"github.com/mkock/bootseq/v3/script"
)

func requireShell(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath(script.DefaultShell); err != nil {
		t.Skipf("%s not available: %v", script.DefaultShell, err)
	}
}

func initDir(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "init")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func testConfig(dir string) *config.Config {
	return &config.Config{Init: config.InitConfig{Dirname: dir}}
}

func TestApp(t *testing.T) {
	requireShell(t)

	t.Run("it runs scripts and merges fragments before becoming ready", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "out")
		dir := initDir(t, map[string]string{
			"01_base.yaml":  "db:\n  host: localhost\n",
			"02_touch.sh":   "echo booted > " + out + "\n",
			"03_local.toml": "[db]\nhost = \"db.internal\"\n",
		})

		app := newApp(testConfig(dir), zap.NewNop(), prometheus.NewRegistry())
		assert.False(t, app.Ready())

		require.NoError(t, app.Boot(context.Background()))
		assert.True(t, app.Ready())
		assert.Equal(t, "db.internal", app.Config.String("db.host"))
		assert.FileExists(t, out)
	})

	t.Run("it does not become ready when an initializer fails", func(t *testing.T) {
		dir := initDir(t, map[string]string{
			"01_fail.sh": "exit 4\n",
		})

		app := newApp(testConfig(dir), zap.NewNop(), prometheus.NewRegistry())
		err := app.Boot(context.Background())

		var phaseErr *bootseq.PhaseError
		require.ErrorAs(t, err, &phaseErr)
		assert.Equal(t, "initializers", phaseErr.Name)

		var exitErr *script.ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, 4, exitErr.Code)
		assert.False(t, app.Ready())
	})

	t.Run("it restricts initializers to the configured extensions", func(t *testing.T) {
		dir := initDir(t, map[string]string{
			"01_fail.sh":   "exit 1\n",
			"02_base.yaml": "name: api\n",
		})
		cfg := testConfig(dir)
		cfg.Init.Extensions = []string{"yaml"}

		app := newApp(cfg, zap.NewNop(), prometheus.NewRegistry())
		require.NoError(t, app.Boot(context.Background()))
		assert.Equal(t, "api", app.Config.String("name"))
	})
}

func TestServer(t *testing.T) {
	reg := prometheus.NewRegistry()
	app := newApp(testConfig(filepath.Join(t.TempDir(), "missing")), zap.NewNop(), reg)
	srv := newServer(app, reg, zap.NewNop())

	health := func() (int, HealthResponse) {
		rec := httptest.NewRecorder()
		srv.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		var body HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return rec.Code, body
	}

	code, body := health()
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "booting", body.Status)

	require.NoError(t, app.Boot(context.Background()))

	code, body = health()
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body.Status)

	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `bootseq_phases_total{kind="async",result="success"} 1`)
	assert.Contains(t, rec.Body.String(), `bootseq_phases_total{kind="sync",result="success"} 1`)
}

func TestServerRun(t *testing.T) {
	t.Run("it requires a listener", func(t *testing.T) {
		srv := newServer(newApp(testConfig(t.TempDir()), zap.NewNop(), prometheus.NewRegistry()), prometheus.NewRegistry(), zap.NewNop())
		assert.EqualError(t, srv.Run(context.Background(), time.Second), "server is not listening")
	})

	t.Run("it shuts down when the context is done", func(t *testing.T) {
		srv := newServer(newApp(testConfig(t.TempDir()), zap.NewNop(), prometheus.NewRegistry()), prometheus.NewRegistry(), zap.NewNop())
		require.NoError(t, srv.Listen("127.0.0.1:0"))
		require.NotNil(t, srv.Addr())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.NoError(t, srv.Run(ctx, time.Second))
	})
}

// blockingApp returns an App that becomes ready once release is closed.
func blockingApp(release <-chan struct{}, bootErr error) *App {
	app := &App{Config: koanf.New("."), Log: zap.NewNop()}
	app.Sequencer = bootseq.New(app, bootseq.WithLogger(zap.NewNop())).
		Phase(bootseq.Func[*App](func(ctx context.Context, _ *App) error {
			select {
			case <-release:
				return bootErr
			case <-ctx.Done():
				return ctx.Err()
			}
		})).
		Phase(bootseq.Func[*App](markReady))
	return app
}

func healthStatus(addr string) int {
	client := &http.Client{Timeout: time.Second}
	resp, err := client.Get("http://" + addr + "/health")
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	return resp.StatusCode
}

func TestBootAndServe(t *testing.T) {
	t.Run("it reports readiness while booting", func(t *testing.T) {
		release := make(chan struct{})
		app := blockingApp(release, nil)
		srv := newServer(app, prometheus.NewRegistry(), zap.NewNop())
		require.NoError(t, srv.Listen("127.0.0.1:0"))
		addr := srv.Addr().String()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan error, 1)
		go func() {
			done <- bootAndServe(ctx, app, srv, time.Second)
		}()

		assert.Eventually(t, func() bool {
			return healthStatus(addr) == http.StatusServiceUnavailable
		}, 2*time.Second, 10*time.Millisecond)

		close(release)
		assert.Eventually(t, func() bool {
			return healthStatus(addr) == http.StatusOK
		}, 2*time.Second, 10*time.Millisecond)

		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("expected the server to shut down")
		}
	})

	t.Run("it shuts down when booting fails", func(t *testing.T) {
		release := make(chan struct{})
		close(release)
		app := blockingApp(release, errors.New("database unreachable"))
		srv := newServer(app, prometheus.NewRegistry(), zap.NewNop())
		require.NoError(t, srv.Listen("127.0.0.1:0"))

		err := bootAndServe(context.Background(), app, srv, time.Second)
		assert.EqualError(t, err, "boot failed: database unreachable")
		assert.False(t, app.Ready())
	})
}

func TestRun(t *testing.T) {
	requireShell(t)

	t.Run("it boots from flags", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "out")
		dir := initDir(t, map[string]string{"01_touch.sh": "touch " + out + "\n"})

		var logs bytes.Buffer
		err := run(context.Background(), runOptions{
			configPath: filepath.Join(t.TempDir(), "missing.yaml"),
			dirname:    dir,
		}, &logs)
		require.NoError(t, err)
		assert.FileExists(t, out)
		assert.Contains(t, logs.String(), "boot sequence completed")
	})

	t.Run("it reports a failed boot", func(t *testing.T) {
		dir := initDir(t, map[string]string{"01_fail.sh": "exit 2\n"})

		err := run(context.Background(), runOptions{dirname: dir}, &bytes.Buffer{})
		require.Error(t, err)
		assert.True(t, strings.HasPrefix(err.Error(), "boot failed: "), err.Error())
	})

	t.Run("it rejects invalid configuration", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bootseq.yaml")
		require.NoError(t, os.WriteFile(path, []byte("log:\n  format: xml\n"), 0o600))

		err := run(context.Background(), runOptions{configPath: path}, &bytes.Buffer{})
		assert.ErrorContains(t, err, "config validation failed")
	})
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "bootseq dev\n", out.String())
}
