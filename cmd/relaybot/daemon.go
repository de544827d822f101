package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"relaybot/internal/config"

	"github.com/spf13/cobra"
)

const launchdLabel = "com.relaybot.gateway"

// servicePlan describes the unit file for one init system.
type servicePlan struct {
	path  string
	body  string
	notes []string
}

func installDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install the gateway as a user service (launchd/systemd)",
		Long:  "Writes a service definition so the RelayBot gateway starts in the background at login.",
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("locate executable: %w", err)
			}

			plan, err := planService(runtime.GOOS, execPath, resolveConfigPath())
			if err != nil {
				return err
			}

			if err := os.MkdirAll(filepath.Dir(plan.path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(plan.path, []byte(plan.body), 0o644); err != nil {
				return err
			}

			fmt.Printf("Service installed: %s\n", plan.path)
			for _, note := range plan.notes {
				fmt.Println(note)
			}
			return nil
		},
	}
}

func uninstallDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the RelayBot user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := servicePath(runtime.GOOS)
			if err != nil {
				return err
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Printf("Service removed: %s\n", path)
			return nil
		},
	}
}

func servicePath(goos string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	switch goos {
	case "darwin":
		return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist"), nil
	case "linux":
		return filepath.Join(home, ".config", "systemd", "user", "relaybot.service"), nil
	default:
		return "", fmt.Errorf("no service support for %s (darwin and linux only)", goos)
	}
}

func planService(goos, execPath, cfgPath string) (servicePlan, error) {
	path, err := servicePath(goos)
	if err != nil {
		return servicePlan{}, err
	}

	if goos == "darwin" {
		logDir := filepath.Join(config.DefaultConfigDir(), "logs")
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return servicePlan{}, err
		}
		return servicePlan{
			path: path,
			body: renderLaunchdPlist(execPath, cfgPath, logDir),
			notes: []string{
				"Load with:   launchctl load " + path,
				"Unload with: launchctl unload " + path,
			},
		}, nil
	}

	// linux, guarded by servicePath above
	return servicePlan{
		path: path,
		body: renderSystemdUnit(execPath, cfgPath),
		notes: []string{
			"Enable with: systemctl --user enable --now relaybot",
			"Stop with:   systemctl --user stop relaybot",
		},
	}, nil
}

func renderLaunchdPlist(execPath, cfgPath, logDir string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>%s</string>
    <key>ProgramArguments</key>
    <array>
        <string>%s</string>
        <string>gateway</string>
        <string>--config</string>
        <string>%s</string>
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
`, launchdLabel, execPath, cfgPath,
		filepath.Join(logDir, "gateway.log"),
		filepath.Join(logDir, "gateway.err.log"))
}

func renderSystemdUnit(execPath, cfgPath string) string {
	return fmt.Sprintf(`[Unit]
Description=RelayBot messaging relay gateway
After=network-online.target
Wants=network-online.target

[Service]
ExecStart=%s gateway --config %s
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`, execPath, cfgPath)
}
