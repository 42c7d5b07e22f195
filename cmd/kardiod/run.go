package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kardio/kardiod/internal/advertising"
	"github.com/kardio/kardiod/internal/gatt"
	"github.com/kardio/kardiod/internal/groutine"
	"github.com/kardio/kardiod/internal/lifecycle"
	"github.com/kardio/kardiod/internal/radio"
	"github.com/kardio/kardiod/internal/radio/bluez"
	"github.com/kardio/kardiod/internal/simulator"
	"github.com/kardio/kardiod/pkg/config"
	"github.com/kardio/kardiod/pkg/manager"
)

// Service and characteristic UUIDs (Bluetooth SIG assigned numbers).
const (
	heartRateServiceUUID     = "0000180d-0000-1000-8000-00805f9b34fb"
	heartRateMeasurementUUID = "00002a37-0000-1000-8000-00805f9b34fb"
	bodySensorLocationUUID   = "00002a38-0000-1000-8000-00805f9b34fb"

	pulseOximeterServiceUUID = "00001822-0000-1000-8000-00805f9b34fb"
	plxMeasurementUUID       = "00002a5f-0000-1000-8000-00805f9b34fb"
)

// bodySensorLocationChest is the Body Sensor Location value for "chest".
const bodySensorLocationChest = 0x01

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sensor peripheral daemon",
	Long: `Starts the peripheral: registers the Heart Rate and Pulse Oximeter
services, begins the measurement simulators, and serves a single central
device until interrupted.`,
	RunE: runDaemon,
}

func init() {
	runCmd.Flags().String("config", "", "Path to YAML config file")
	runCmd.Flags().String("name", "", "Advertised device name (overrides config)")
	runCmd.Flags().String("adapter", "", "Bluetooth adapter ID, e.g. hci0 (overrides config)")
	runCmd.Flags().Bool("toggle-test", false, "Run the service unregister/re-register exercise at startup")
	runCmd.Flags().Bool("wait-first", false, "Block for the first connection before producing data")
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if name, _ := cmd.Flags().GetString("name"); name != "" {
		cfg.DeviceName = name
	}
	if adapter, _ := cmd.Flags().GetString("adapter"); adapter != "" {
		cfg.Adapter = adapter
	}
	if toggle, _ := cmd.Flags().GetBool("toggle-test"); toggle {
		cfg.ToggleTest = true
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	stack, err := bluez.NewStack(cfg.Adapter, logger)
	if err != nil {
		return err
	}

	heartRate := &radio.ServiceDescription{
		ID:              radio.ServiceHeartRate,
		UUID:            heartRateServiceUUID,
		MeasurementUUID: heartRateMeasurementUUID,
		Static: []radio.StaticValue{
			{UUID: bodySensorLocationUUID, Value: []byte{bodySensorLocationChest}},
		},
	}
	pulseOx := &radio.ServiceDescription{
		ID:               radio.ServicePulseOximeter,
		UUID:             pulseOximeterServiceUUID,
		MeasurementUUID:  plxMeasurementUUID,
		SupportsIndicate: true,
	}

	registry := gatt.NewRegistry(stack, logger, heartRate, pulseOx)
	adv := advertising.NewController(stack, radio.AdvertisingOptions{
		Name:         cfg.DeviceName,
		ServiceUUIDs: []string{heartRateServiceUUID, pulseOximeterServiceUUID},
		Connectable:  true,
	}, cfg.RestartDelay, cfg.RestartBackoff, logger)
	sm := lifecycle.NewStateManager(stack, adv, registry, cfg.PollInterval, logger)
	power := lifecycle.NewPowerManager(sm, cfg.IdleGrace, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sm.SetDisconnectHook(func() {
		groutine.Go(ctx, "idle-down", func(ctx context.Context) {
			if err := power.DisableIfIdle(ctx); err != nil {
				logger.WithError(err).Error("Idle power-down failed")
			}
		})
	})
	stack.SetEventHandler(sm)

	mgr := manager.New(sm, power, registry, manager.Options{
		ConnectionTimeout:      cfg.ConnectionTimeout,
		FirstConnectionTimeout: cfg.FirstConnectionTimeout,
		SettleDelay:            cfg.SettleDelay,
	}, logger)

	if err := registry.RegisterAll(); err != nil {
		return err
	}

	banner(cfg)

	if waitFirst, _ := cmd.Flags().GetBool("wait-first"); waitFirst {
		if err := mgr.WaitForFirstConnection(ctx); err != nil {
			if radio.IsKind(err, radio.ConnectionTimeout) {
				logger.Warn("No central connected yet, producers will keep trying")
			} else {
				return err
			}
		}
	}

	hr := simulator.NewHeartRate(mgr, registry, cfg.HeartRatePeriod, logger)
	spo2 := simulator.NewSpO2(mgr, registry, cfg.SpO2Period, simulator.ToggleOptions{
		Enabled:         cfg.ToggleTest,
		UnregisterFor:   cfg.ToggleUnregisterDelay,
		ReregisterAfter: cfg.ToggleReregisterDelay,
	}, logger)
	groutine.Go(ctx, "heart-rate-producer", hr.Run)
	groutine.Go(ctx, "spo2-producer", spo2.Run)

	<-ctx.Done()
	logger.Info("Shutting down")

	// Best-effort power-off; a still-connected peer keeps the radio up and
	// that is fine, bluetoothd owns it from here.
	if err := sm.Disable(); err != nil && !errors.Is(err, radio.ErrStackBusy) {
		logger.WithError(err).Warn("Could not power the adapter off")
	}
	return nil
}

func banner(cfg *config.Config) {
	title := color.New(color.FgCyan, color.Bold)
	dim := color.New(color.Faint)
	title.Printf("kardiod %s\n", formatVersion(version))
	dim.Printf("  advertising as %q on %s\n", cfg.DeviceName, cfg.Adapter)
	fmt.Printf("  heart rate every %s, SpO2 every %s\n", cfg.HeartRatePeriod, cfg.SpO2Period)
}
