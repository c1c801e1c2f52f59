package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
)

// DoctorCommand returns the CLI command definition for the 'doctor'
// subcommand. It runs diagnostic checks against the effective
// configuration: config file health, backend reachability, and the
// span directory.
func DoctorCommand(version string) *cli.Command {
	return &cli.Command{
		Name:  "doctor",
		Usage: "Diagnose common setup and configuration issues",
		Description: `Run checks to verify the console gateway is properly configured.

This command checks:
  - Config file discovery and parsing
  - Backend API reachability
  - Stream endpoint reachability (when configured)
  - Span directory existence (when configured)

Exit codes:
  0 - All critical checks passed
  1 - One or more issues found`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to a JSON config file",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runDoctor(ctx, version, cmd.String("config"), &realDoctorEnv{})
		},
	}
}

type checkResult struct {
	Name       string
	Status     string // "pass", "warn", "fail"
	Message    string
	Suggestion string
	IsCritical bool
}

// doctorEnv abstracts the host environment so checks are testable.
type doctorEnv interface {
	Stat(name string) (os.FileInfo, error)
	Get(ctx context.Context, url string) (*http.Response, error)
}

type realDoctorEnv struct{}

func (r *realDoctorEnv) Stat(name string) (os.FileInfo, error) { return os.Stat(name) }

func (r *realDoctorEnv) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 5 * time.Second}
	return client.Do(req)
}

func runDoctor(ctx context.Context, version, configPath string, env doctorEnv) error {
	fmt.Printf("bud-console doctor (version %s)\n\n", version)

	results := runChecks(ctx, configPath, env)

	failed := 0
	for _, r := range results {
		icon := "✅"
		switch r.Status {
		case "warn":
			icon = "⚠️"
		case "fail":
			icon = "❌"
			if r.IsCritical {
				failed++
			}
		}
		fmt.Printf("%s %s: %s\n", icon, r.Name, r.Message)
		if r.Suggestion != "" {
			fmt.Printf("   💡 %s\n", r.Suggestion)
		}
	}

	fmt.Println()
	if failed > 0 {
		return fmt.Errorf("%d critical check(s) failed", failed)
	}
	fmt.Println("All critical checks passed")
	return nil
}

func runChecks(ctx context.Context, configPath string, env doctorEnv) []checkResult {
	var results []checkResult

	cfg, err := LoadEffectiveConfig(configPath)
	if err != nil {
		results = append(results, checkResult{
			Name:       "config",
			Status:     "fail",
			Message:    err.Error(),
			Suggestion: "fix or remove the broken config file",
			IsCritical: true,
		})
		return results
	}
	results = append(results, checkResult{
		Name:    "config",
		Status:  "pass",
		Message: "configuration loaded",
	})

	results = append(results, checkBackend(ctx, cfg, env))

	if cfg.StreamURL != "" {
		results = append(results, checkStream(ctx, cfg, env))
	}

	if cfg.SpanDir != "" {
		results = append(results, checkSpanDir(cfg, env))
	}

	return results
}

// checkBackend requests the backend base URL. Any HTTP response counts as
// reachable; 401/403 additionally hints at a missing token.
func checkBackend(ctx context.Context, cfg *Config, env doctorEnv) checkResult {
	resp, err := env.Get(ctx, cfg.BackendURL)
	if err != nil {
		return checkResult{
			Name:       "backend",
			Status:     "fail",
			Message:    fmt.Sprintf("cannot reach %s: %v", cfg.BackendURL, err),
			Suggestion: "check backend_url and that the platform API is running",
			IsCritical: true,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return checkResult{
			Name:       "backend",
			Status:     "warn",
			Message:    fmt.Sprintf("%s answered %d", cfg.BackendURL, resp.StatusCode),
			Suggestion: "set backend_token (or BUD_CONSOLE_TOKEN)",
		}
	}
	return checkResult{
		Name:    "backend",
		Status:  "pass",
		Message: fmt.Sprintf("%s reachable (%d)", cfg.BackendURL, resp.StatusCode),
	}
}

// checkStream requests the configured stream endpoint over plain HTTP.
// Any response counts as reachable: a WebSocket server answering a bare
// GET with 400 or 426 is still up.
func checkStream(ctx context.Context, cfg *Config, env doctorEnv) checkResult {
	resp, err := env.Get(ctx, streamCheckURL(cfg.StreamURL))
	if err != nil {
		return checkResult{
			Name:       "stream",
			Status:     "fail",
			Message:    fmt.Sprintf("cannot reach %s: %v", cfg.StreamURL, err),
			Suggestion: "check stream_url and that the streaming channel is up",
			IsCritical: true,
		}
	}
	resp.Body.Close()
	return checkResult{
		Name:    "stream",
		Status:  "pass",
		Message: fmt.Sprintf("%s reachable (%d)", cfg.StreamURL, resp.StatusCode),
	}
}

// streamCheckURL maps a ws/wss stream URL onto http/https so the check
// can use a plain GET.
func streamCheckURL(u string) string {
	switch {
	case strings.HasPrefix(u, "ws://"):
		return "http://" + strings.TrimPrefix(u, "ws://")
	case strings.HasPrefix(u, "wss://"):
		return "https://" + strings.TrimPrefix(u, "wss://")
	}
	return u
}

func checkSpanDir(cfg *Config, env doctorEnv) checkResult {
	info, err := env.Stat(cfg.SpanDir)
	if err != nil {
		return checkResult{
			Name:       "span-dir",
			Status:     "fail",
			Message:    fmt.Sprintf("cannot stat %s: %v", cfg.SpanDir, err),
			Suggestion: "create the directory or remove span_dir from the config",
			IsCritical: true,
		}
	}
	if !info.IsDir() {
		return checkResult{
			Name:       "span-dir",
			Status:     "fail",
			Message:    fmt.Sprintf("%s is not a directory", cfg.SpanDir),
			IsCritical: true,
		}
	}
	return checkResult{
		Name:    "span-dir",
		Status:  "pass",
		Message: fmt.Sprintf("%s exists", cfg.SpanDir),
	}
}
