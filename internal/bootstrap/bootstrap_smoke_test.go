package bootstrap

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, port int, driver string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(`server:
  ip: 127.0.0.1
  port: %d
log:
  log_level: ERROR
  log_dir: %s
entries:
  driver: %s
  sqlite:
    dsn: %s
`, port, filepath.Join(dir, "logs"), driver, filepath.Join(dir, "entries.db"))
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestInitGraphOrder(t *testing.T) {
	steps := InitGraph()
	want := []string{
		"config:load",
		"logging:init-provider",
		"observability:setup-hooks",
		"storage:open-database",
		"entries:init-store",
		"events:init-bus",
		"credential:init-resolver",
		"auth:init-issuer",
	}
	if len(steps) != len(want) {
		t.Fatalf("unexpected step count: got %d want %d", len(steps), len(want))
	}
	for i, step := range steps {
		if step.ID != want[i] {
			t.Fatalf("step %d mismatch: got %s want %s", i, step.ID, want[i])
		}
	}
}

func TestExecuteInitGraphMissingDependency(t *testing.T) {
	steps := []initStep{{
		ID:        "b",
		DependsOn: []string{"a"},
		Execute:   func(context.Context, *appState) error { return nil },
	}}
	if err := executeInitSteps(context.Background(), steps, &appState{}); err == nil {
		t.Fatal("expected unsatisfied dependency error")
	}
}

func TestExecuteInitGraphWithSQLite(t *testing.T) {
	state := &appState{opts: Options{ConfigPath: writeConfig(t, 18124, "sqlite"), DisableDotEnv: true}}
	err := executeInitSteps(context.Background(), InitGraph(), state)
	t.Cleanup(state.close)
	if err != nil {
		t.Fatalf("executeInitSteps failed: %v", err)
	}

	if state.db == nil {
		t.Fatal("database is nil for sqlite driver")
	}
	if state.entries == nil || state.resolver == nil || state.bus == nil {
		t.Fatal("entries, resolver and bus must be initialised")
	}
	if state.journal == nil {
		t.Fatal("journal is nil for sqlite driver")
	}
	if state.issuer != nil {
		t.Fatal("issuer must be nil when auth is disabled")
	}
	if state.observabilityShutdown == nil {
		t.Fatal("observability shutdown is nil")
	}
}

func TestExecuteInitGraphWithMemory(t *testing.T) {
	state := &appState{opts: Options{ConfigPath: writeConfig(t, 18125, "memory"), DisableDotEnv: true}}
	err := executeInitSteps(context.Background(), InitGraph(), state)
	t.Cleanup(state.close)
	if err != nil {
		t.Fatalf("executeInitSteps failed: %v", err)
	}
	if state.db != nil || state.journal != nil {
		t.Fatal("memory driver must not open a database")
	}
}

func TestEventsRouteFollowsJournal(t *testing.T) {
	for driver, want := range map[string]int{"sqlite": http.StatusOK, "memory": http.StatusNotFound} {
		t.Run(driver, func(t *testing.T) {
			state := &appState{opts: Options{ConfigPath: writeConfig(t, 18126, driver), DisableDotEnv: true}}
			err := executeInitSteps(context.Background(), InitGraph(), state)
			t.Cleanup(state.close)
			if err != nil {
				t.Fatalf("executeInitSteps failed: %v", err)
			}

			router, err := buildRouter(state)
			if err != nil {
				t.Fatalf("buildRouter failed: %v", err)
			}
			rec := httptest.NewRecorder()
			router.Engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))
			if rec.Code != want {
				t.Fatalf("GET /api/events: got %d want %d", rec.Code, want)
			}
		})
	}
}

func TestRunServesHealthAndShutsDown(t *testing.T) {
	port := freePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Options{ConfigPath: writeConfig(t, port, "memory"), DisableDotEnv: true})
	}()

	url := fmt.Sprintf("http://127.0.0.1:%d/healthz", port)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("healthz status %d", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("server did not come up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(20 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
