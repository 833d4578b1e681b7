package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

const (
	launchdLabel = "dev.frontdesk.serve"
	systemdUnit  = "frontdesk.service"
)

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Install or remove a user service running 'frontdesk serve'",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Write a launchd agent (macOS) or systemd user unit (Linux)",
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			path, content, hint, err := serviceFile(runtime.GOOS, execPath, resolveConfigPath())
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return err
			}
			fmt.Printf("Service installed: %s\n%s\n", path, hint)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Remove the installed service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _, _, err := serviceFile(runtime.GOOS, "", "")
			if err != nil {
				return err
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Printf("Service removed: %s\n", path)
			return nil
		},
	})
	return cmd
}

// serviceFile renders the service definition for goos and returns where it
// belongs plus a hint on how to start it.
func serviceFile(goos, execPath, cfgPath string) (path, content, hint string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", "", err
	}
	r := strings.NewReplacer("{{EXEC}}", execPath, "{{CONFIG}}", cfgPath, "{{LABEL}}", launchdLabel,
		"{{LOG}}", filepath.Join(home, ".frontdesk", "logs", "frontdesk.log"))

	switch goos {
	case "darwin":
		path = filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
		return path, r.Replace(launchdTemplate), "To start: launchctl load " + path, nil
	case "linux":
		path = filepath.Join(home, ".config", "systemd", "user", systemdUnit)
		return path, r.Replace(systemdTemplate), "To start: systemctl --user enable --now frontdesk", nil
	default:
		return "", "", "", fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", goos)
	}
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{LABEL}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{EXEC}}</string>
        <string>serve</string>
        <string>--config</string>
        <string>{{CONFIG}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardErrorPath</key>
    <string>{{LOG}}</string>
</dict>
</plist>`

const systemdTemplate = `[Unit]
Description=frontdesk customer chat router
After=network-online.target

[Service]
Type=simple
ExecStart={{EXEC}} serve --config {{CONFIG}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target`
