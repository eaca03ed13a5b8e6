package service

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pemexe/pem/internal/model"
)

// Label identifies the background service to launchd and systemd.
const Label = "com.pem.daemon"

// Paths locates the per-user unit file and the daemon log directory.
type Paths struct {
	ServiceFile string
	LogDir      string
}

// UnitPaths resolves where the current platform keeps per-user service
// definitions. Unsupported platforms error instead of guessing.
func UnitPaths(cfg model.Config) (Paths, error) {
	logDir, err := cfg.LogsDirectory()
	if err != nil {
		return Paths{}, err
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return Paths{}, err
	}

	var serviceFile string
	switch runtime.GOOS {
	case "darwin":
		serviceFile = filepath.Join(home, "Library", "LaunchAgents", Label+".plist")
	case "linux":
		serviceFile = filepath.Join(home, ".config", "systemd", "user", "pem.service")
	default:
		return Paths{}, fmt.Errorf("unsupported platform for service management: %s", runtime.GOOS)
	}

	if err := os.MkdirAll(filepath.Dir(serviceFile), 0o755); err != nil {
		return Paths{}, err
	}
	return Paths{ServiceFile: serviceFile, LogDir: logDir}, nil
}

// Install writes the unit file pointing at "<this binary> serve" and starts
// the service.
func Install(ctx context.Context, cfg model.Config) error {
	paths, err := UnitPaths(cfg)
	if err != nil {
		return err
	}
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	switch runtime.GOOS {
	case "darwin":
		content := plistContent(exe, paths.LogDir)
		if err := os.WriteFile(paths.ServiceFile, []byte(content), 0o644); err != nil {
			return err
		}
		return run(ctx, "launchctl", "load", "-w", paths.ServiceFile)
	case "linux":
		content := systemdContent(exe)
		if err := os.WriteFile(paths.ServiceFile, []byte(content), 0o644); err != nil {
			return err
		}
		if err := run(ctx, "systemctl", "--user", "daemon-reload"); err != nil {
			return err
		}
		return run(ctx, "systemctl", "--user", "enable", "--now", "pem.service")
	default:
		return fmt.Errorf("unsupported platform for service install: %s", runtime.GOOS)
	}
}

// Uninstall stops the service and removes the unit file.
func Uninstall(ctx context.Context, cfg model.Config) error {
	paths, err := UnitPaths(cfg)
	if err != nil {
		return err
	}

	switch runtime.GOOS {
	case "darwin":
		_ = run(ctx, "launchctl", "unload", "-w", paths.ServiceFile)
		return removeIfExists(paths.ServiceFile)
	case "linux":
		_ = run(ctx, "systemctl", "--user", "disable", "--now", "pem.service")
		if err := removeIfExists(paths.ServiceFile); err != nil {
			return err
		}
		return run(ctx, "systemctl", "--user", "daemon-reload")
	default:
		return fmt.Errorf("unsupported platform for service uninstall: %s", runtime.GOOS)
	}
}

// Start starts an installed service.
func Start(ctx context.Context, cfg model.Config) error {
	paths, err := UnitPaths(cfg)
	if err != nil {
		return err
	}
	switch runtime.GOOS {
	case "darwin":
		return run(ctx, "launchctl", "load", "-w", paths.ServiceFile)
	case "linux":
		return run(ctx, "systemctl", "--user", "start", "pem.service")
	default:
		return fmt.Errorf("unsupported platform for service start: %s", runtime.GOOS)
	}
}

// Stop stops a running service.
func Stop(ctx context.Context, cfg model.Config) error {
	paths, err := UnitPaths(cfg)
	if err != nil {
		return err
	}
	switch runtime.GOOS {
	case "darwin":
		return run(ctx, "launchctl", "unload", "-w", paths.ServiceFile)
	case "linux":
		return run(ctx, "systemctl", "--user", "stop", "pem.service")
	default:
		return fmt.Errorf("unsupported platform for service stop: %s", runtime.GOOS)
	}
}

// Status reports the service state as the platform tool prints it.
func Status(ctx context.Context, cfg model.Config) (string, error) {
	if _, err := UnitPaths(cfg); err != nil {
		return "", err
	}
	switch runtime.GOOS {
	case "darwin":
		out, err := output(ctx, "launchctl", "list", Label)
		if err != nil {
			return "not running", nil
		}
		return out, nil
	case "linux":
		out, _ := output(ctx, "systemctl", "--user", "is-active", "pem.service")
		if out == "" {
			out = "unknown"
		}
		return out, nil
	default:
		return "", fmt.Errorf("unsupported platform for service status: %s", runtime.GOOS)
	}
}

func run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("%s %s: %s", name, strings.Join(args, " "), msg)
	}
	return nil
}

func output(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func plistContent(executable, logDir string) string {
	stdout := filepath.Join(logDir, "pem-daemon.out.log")
	stderr := filepath.Join(logDir, "pem-daemon.err.log")
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
  <dict>
    <key>Label</key>
    <string>%s</string>
    <key>ProgramArguments</key>
    <array>
      <string>%s</string>
      <string>serve</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>%s</string>
    <key>StandardErrorPath</key>
    <string>%s</string>
  </dict>
</plist>
`, Label, executable, stdout, stderr)
}

func systemdContent(executable string) string {
	home, _ := os.UserHomeDir()
	return fmt.Sprintf(`[Unit]
Description=pem scheduler daemon
After=network.target

[Service]
Type=simple
ExecStart=%s serve
Restart=always
WorkingDirectory=%s

[Install]
WantedBy=default.target
`, executable, home)
}
