// Package main runs the NFC bridge: one reader session at a time, driven by
// WebSocket clients, over a libnfc reader or a paired phone.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nedpals/davi-nfc-bridge/buildinfo"
	"github.com/nedpals/davi-nfc-bridge/config"
	"github.com/nedpals/davi-nfc-bridge/nfc"
)

var (
	configPath     string
	portFlag       int
	deviceFlag     string
	radioFlag      string
	apiSecretFlag  string
	logLevelFlag   string
	mdnsFlag       bool
	systrayFlag    bool
	timeoutFlag    time.Duration
	eventPolicyArg string
)

var rootCmd = &cobra.Command{
	Use:   buildinfo.Name,
	Short: buildinfo.Description,
	Long: buildinfo.DisplayName + ` exposes one NFC reader session at a time to WebSocket clients.

Radios:
  libnfc:  a USB reader, optionally selected with --device
  phone:   a paired phone connecting to /ws?mode=radio
  none:    no hardware; sessions fail with HardwareUnavailable

Settings are read from config.toml in the user config directory unless
--config is given. Flags override the file.`,
	Version:       buildinfo.FullVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runBridge,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(buildinfo.BuildInfo())
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List libnfc readers",
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := nfc.ListDevices()
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			fmt.Println("No NFC readers found")
			return nil
		}
		for _, d := range devices {
			fmt.Println(d)
		}
		return nil
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "Config file (default: user config dir)")
	f.IntVarP(&portFlag, "port", "p", 0, "Port to listen on")
	f.StringVarP(&deviceFlag, "device", "d", "", "libnfc connection string (default: first reader)")
	f.StringVar(&radioFlag, "radio", "", "Radio: libnfc, phone or none")
	f.StringVar(&apiSecretFlag, "api-secret", "", "Secret clients must present (optional)")
	f.StringVar(&logLevelFlag, "log-level", "", "Log level")
	f.BoolVar(&mdnsFlag, "mdns", true, "Advertise the bridge over mDNS")
	f.BoolVar(&systrayFlag, "systray", false, "Run with a system tray icon")
	f.DurationVar(&timeoutFlag, "command-timeout", 0, "Default per-command timeout")
	f.StringVar(&eventPolicyArg, "event-policy", "", "Event backpressure: unbounded, drop-oldest or drop-newest")

	rootCmd.AddCommand(versionCmd, devicesCmd)
}

// loadConfig reads the config file and applies the flags that were set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}

	f := cmd.Flags()
	if f.Changed("port") {
		cfg.Port = portFlag
	}
	if f.Changed("device") {
		cfg.Device = deviceFlag
	}
	if f.Changed("radio") {
		cfg.Radio = radioFlag
	}
	if f.Changed("api-secret") {
		cfg.APISecret = apiSecretFlag
	}
	if f.Changed("log-level") {
		cfg.LogLevel = logLevelFlag
	}
	if f.Changed("mdns") {
		cfg.MDNS = mdnsFlag
	}
	if f.Changed("systray") {
		cfg.Systray = systrayFlag
	}
	if f.Changed("command-timeout") {
		cfg.CommandTimeout = timeoutFlag
	}
	if f.Changed("event-policy") {
		cfg.EventPolicy = eventPolicyArg
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := cfg.NewLogger()
	agent := NewAgent(cfg, log)

	if cfg.Systray {
		NewSystrayApp(agent).Run()
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := agent.Start(ctx); err != nil {
		return err
	}
	log.Infof("%s listening on %s (radio: %s)", buildinfo.DisplayName, agent.Addr(), cfg.Radio)

	done := make(chan error, 1)
	go func() { done <- agent.Wait() }()

	select {
	case <-ctx.Done():
		log.Info("Received interrupt, shutting down")
		agent.Stop()
		return nil
	case err := <-done:
		agent.Stop()
		return err
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
