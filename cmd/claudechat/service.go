package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"

	"github.com/urfave/cli/v3"
)

const serviceName = "claudechat"

const serviceTemplate = `[Unit]
Description=Claude Chat proxy backend
After=network.target

[Service]
Type=simple
User=%s
ExecStart=%s --config %s serve
Restart=on-failure
RestartSec=5s
Environment=HOME=%s

[Install]
WantedBy=default.target
`

// generateServiceFile creates the systemd unit running the backend
func generateServiceFile(username, execPath, configPath, homeDir string) string {
	return fmt.Sprintf(serviceTemplate, username, execPath, configPath, homeDir)
}

func systemServicePath() string {
	return "/etc/systemd/system/" + serviceName + ".service"
}

func userServicePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "systemd", "user", serviceName+".service")
}

func getServicePath(system bool) string {
	if system {
		return systemServicePath()
	}
	return userServicePath()
}

// systemctlArgs prefixes --user unless the unit is system-wide
func systemctlArgs(system bool, args ...string) []string {
	if system {
		return args
	}
	return append([]string{"--user"}, args...)
}

func systemctl(system bool, args ...string) *exec.Cmd {
	return exec.Command("systemctl", systemctlArgs(system, args...)...)
}

func getExecutablePath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	return filepath.Abs(exe)
}

var systemFlag = &cli.BoolFlag{
	Name:    "system",
	Aliases: []string{"s"},
	Usage:   "System-wide service (requires root); default is a user service",
}

func serviceCommand() *cli.Command {
	return &cli.Command{
		Name:  "service",
		Usage: "Manage the systemd unit for the proxy backend",
		Commands: []*cli.Command{
			{
				Name:   "install",
				Usage:  "Install the systemd unit",
				Flags:  []cli.Flag{systemFlag},
				Action: serviceInstall,
			},
			{
				Name:   "uninstall",
				Usage:  "Stop and remove the systemd unit",
				Flags:  []cli.Flag{systemFlag},
				Action: serviceUninstall,
			},
			{
				Name:  "status",
				Usage: "Show service status",
				Flags: []cli.Flag{systemFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					c := systemctl(cmd.Bool("system"), "status", serviceName)
					c.Stdout = out(cmd)
					c.Stderr = os.Stderr
					// systemctl status exits non-zero for stopped units
					_ = c.Run()
					return nil
				},
			},
		},
	}
}

func serviceInstall(ctx context.Context, cmd *cli.Command) error {
	system := cmd.Bool("system")
	servicePath := getServicePath(system)

	currentUser, err := user.Current()
	if err != nil {
		return fmt.Errorf("failed to get current user: %w", err)
	}
	execPath, err := getExecutablePath()
	if err != nil {
		return err
	}
	configPath, err := filepath.Abs(cmd.String(configFlag))
	if err != nil {
		return err
	}

	content := generateServiceFile(currentUser.Username, execPath, configPath, currentUser.HomeDir)

	if err := os.MkdirAll(filepath.Dir(servicePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(servicePath), err)
	}
	if err := os.WriteFile(servicePath, []byte(content), 0644); err != nil {
		if os.IsPermission(err) && system {
			return fmt.Errorf("permission denied, run with sudo for a system service")
		}
		return fmt.Errorf("failed to write service file: %w", err)
	}

	w := out(cmd)
	fmt.Fprintf(w, "✅ Service file installed: %s\n", servicePath)
	_ = systemctl(system, "daemon-reload").Run()

	prefix := "systemctl --user"
	if system {
		prefix = "sudo systemctl"
	}
	fmt.Fprintln(w, "\nTo enable and start:")
	fmt.Fprintf(w, "  %s enable --now %s\n", prefix, serviceName)
	return nil
}

func serviceUninstall(ctx context.Context, cmd *cli.Command) error {
	system := cmd.Bool("system")
	servicePath := getServicePath(system)

	if _, err := os.Stat(servicePath); os.IsNotExist(err) {
		fmt.Fprintln(out(cmd), "⚠️ Service file not found (not installed?)")
		return nil
	}

	_ = systemctl(system, "stop", serviceName).Run()
	_ = systemctl(system, "disable", serviceName).Run()

	if err := os.Remove(servicePath); err != nil {
		if os.IsPermission(err) && system {
			return fmt.Errorf("permission denied, run with sudo for a system service")
		}
		return fmt.Errorf("failed to remove service file: %w", err)
	}
	_ = systemctl(system, "daemon-reload").Run()

	fmt.Fprintln(out(cmd), "✅ Service uninstalled")
	return nil
}
