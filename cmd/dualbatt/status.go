package main

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/charlie0129/dualbatt/pkg/allocator"
	"github.com/charlie0129/dualbatt/pkg/config"
	"github.com/charlie0129/dualbatt/pkg/controller"
	"github.com/charlie0129/dualbatt/pkg/telemetry"
)

type statusData struct {
	status *controller.Status
	config *config.RawFileConfig
}

// fetchStatusData gathers all data required for the status command from the daemon.
func fetchStatusData() (*statusData, error) {
	st, err := apiClient.GetStatus()
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}

	conf, err := apiClient.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}

	return &statusData{status: st, config: conf}, nil
}

func NewStatusCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of dualbatt",
		Long:    `Get the power source, both batteries, the last allocation and the configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := fetchStatusData()
			if err != nil {
				return err
			}

			if asJSON {
				b, err := json.MarshalIndent(data.status, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(b))
				return nil
			}

			printStatus(cmd, data)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw status as JSON")

	return cmd
}

func printStatus(cmd *cobra.Command, data *statusData) {
	st := data.status
	conf := config.NewFileFromConfig(data.config, "")

	cmd.Println(bold("Power source:"))
	cmd.Println("  AC: " + bool2Text(st.AC))
	cmd.Println()

	cmd.Println(bold("Lid battery:"))
	printBattery(cmd, st.Lid, st.LidPercent)
	cmd.Printf("  Applied current: %s\n", bold("%s", formatCurrent(st.State.PrevCurrentLid)))
	cmd.Println()

	cmd.Println(bold("Base battery:"))
	if !st.BaseConnected || st.Base == nil {
		cmd.Println("  " + color.YellowString("not connected"))
	} else {
		printBattery(cmd, *st.Base, st.State.ChargeBase)
		cmd.Printf("  Link: %s\n", linkText(st.State.Link))
		cmd.Printf("  Applied current: %s, charge %s\n",
			bold("%s", formatCurrent(st.State.PrevCurrentBase)), bool2Text(st.State.PrevAllowChargeBase))
		if s := st.BaseStatic; s != nil {
			cmd.Printf("  Model: %s %s (serial %s, %d cycles)\n", s.Manufacturer, s.Model, s.Serial, s.CycleCount)
		}
	}
	cmd.Println()

	cmd.Println(bold("Allocation:"))
	if d := st.LastDecision; d != nil {
		cmd.Printf("  Branch: %s\n", bold("%s", d.Branch))
	}
	if st.LastError != "" {
		cmd.Printf("  Last error: %s\n", color.RedString(st.LastError))
	}
	cmd.Printf("  Lid system power: %s\n", bold("%s", formatEstimate(st.State.LidSystemPower)))
	cmd.Printf("  Lid battery power: %s\n", bold("%s", formatEstimate(st.State.LidBatteryPower)))
	cmd.Printf("  Base battery power: %s\n", bold("%s", formatEstimate(st.State.BaseBatteryPower)))
	if v := st.State.ManualACCurrentBase; v != nil {
		cmd.Printf("  Manual charge: %s\n", bold("%d mA", *v))
	}
	if v := st.State.ManualNoAC; v != nil {
		cmd.Printf("  Manual discharge: %s\n", bold("%d mA", *v))
	}
	cmd.Println()

	cmd.Println(bold("Configuration:"))
	cmd.Printf("  Backend: %s\n", bold("%s", conf.Backend()))
	cmd.Printf("  Loop interval: %s\n", bold("%s", conf.LoopInterval()))
	cmd.Printf("  Base support: %s\n", bool2Text(conf.BaseSupport()))
	cmd.Printf("  Allow non-root users to access the daemon: %s\n", bool2Text(conf.AllowNonRootAccess()))
}

func printBattery(cmd *cobra.Command, bat telemetry.Battery, percent int) {
	if !bat.Valid() {
		cmd.Println("  " + color.YellowString("no valid data"))
		return
	}
	cmd.Printf("  Charge: %s\n", bold("%s", formatPercent(percent)))

	state := "idle"
	switch {
	case bat.Flags.Has(telemetry.FullyCharged):
		state = "full"
	case bat.CurrentMA > 0:
		state = color.GreenString("charging")
	case bat.CurrentMA < 0:
		state = color.RedString("discharging")
	}
	cmd.Printf("  State: %s\n", bold("%s", state))

	watts := float64(bat.PowerMW()) / 1e3
	var rateStr string
	switch {
	case watts > 0:
		rateStr = color.New(color.Bold, color.FgGreen).Sprintf("%+.1f W", watts)
	case watts < 0:
		rateStr = color.New(color.Bold, color.FgRed).Sprintf("%+.1f W", watts)
	default:
		rateStr = bold("%+.1f W", watts)
	}
	cmd.Printf("  Charge rate: %s\n", rateStr)
	cmd.Printf("  Voltage: %s\n", bold("%.2f V", float64(bat.VoltageMV)/1e3))
	cmd.Printf("  Capacity: %s\n", bold("%d/%d mAh", bat.RemainingCapacityMAh, bat.FullCapacityMAh))
}

func linkText(l allocator.LinkStatus) string {
	switch l {
	case allocator.LinkResponsive:
		return color.GreenString(l.String())
	case allocator.LinkUnresponsive:
		return color.RedString(l.String())
	default:
		return color.YellowString(l.String())
	}
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}
