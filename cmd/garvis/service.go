package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"text/template"

	"github.com/spf13/cobra"
)

const (
	launchdLabel    = "dev.garvis.serve"
	systemdUnitName = "garvis.service"
)

// serviceParams fill the service file templates.
type serviceParams struct {
	Label   string
	Exec    string
	Config  string
	LogPath string
}

var (
	launchdTemplate = template.Must(template.New("launchd").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{.Exec}}</string>
        <string>serve</string>
{{- if .Config}}
        <string>--config</string>
        <string>{{.Config}}</string>
{{- end}}
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardErrorPath</key>
    <string>{{.LogPath}}</string>
</dict>
</plist>
`))

	systemdTemplate = template.Must(template.New("systemd").Parse(`[Unit]
Description=Garvis chat assistant
After=network-online.target

[Service]
Type=simple
ExecStart={{.Exec}} serve{{if .Config}} --config {{.Config}}{{end}}
Environment=GARVIS_ENV=production
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`))
)

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Install or remove 'garvis serve' as a user service (launchd/systemd)",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Write the service file for this OS",
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			path, err := servicePath(runtime.GOOS)
			if err != nil {
				return err
			}
			content, err := renderService(runtime.GOOS, serviceParams{
				Label:   launchdLabel,
				Exec:    execPath,
				Config:  configPath,
				LogPath: filepath.Join(filepath.Dir(resolveConfigPath()), "logs", "garvis.log"),
			})
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, content, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Service installed: %s\n", path)
			if runtime.GOOS == "darwin" {
				fmt.Fprintf(cmd.OutOrStdout(), "To start: launchctl load %s\n", path)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "To start: systemctl --user enable --now garvis\n")
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Remove the service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := servicePath(runtime.GOOS)
			if err != nil {
				return err
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Service removed: %s\n", path)
			return nil
		},
	})
	return cmd
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
		return filepath.Join(home, ".config", "systemd", "user", systemdUnitName), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", goos)
	}
}

func renderService(goos string, p serviceParams) ([]byte, error) {
	var tmpl *template.Template
	switch goos {
	case "darwin":
		tmpl = launchdTemplate
	case "linux":
		tmpl = systemdTemplate
	default:
		return nil, fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", goos)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
