package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func NewTickCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "tick",
		Short:   "Run a debug recomputation",
		GroupID: gAdvanced,
		Long: `Run one control tick now and print its result.

The daemon logs the power estimates and split of this tick at info level.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := apiClient.Tick()
			if err != nil {
				return err
			}

			d := r.Decision
			cmd.Printf("Branch: %s\n", bold("%s", d.Branch))
			if d.Hold {
				cmd.Println("  Currents held at their previous values.")
				return nil
			}
			cmd.Printf("  Base: %s, charge %s\n", bold("%s", formatCurrent(d.BaseCurrentMA)), bool2Text(d.AllowChargeBase))
			cmd.Printf("  Lid: %s, charge %s\n", bold("%s", formatCurrent(d.LidCurrentMA)), bool2Text(d.AllowChargeLid))
			if s := d.Split; s != nil {
				cmd.Printf("  Power: total %d mW, lid system %d mW, lid battery %d mW, base battery %d mW\n",
					s.TotalMW, s.LidSystemMW, s.LidBatteryMW, s.BaseBatteryMW)
			}
			return nil
		},
	}
}

func NewEventsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "events",
		Short:   "Print daemon events as they happen",
		GroupID: gAdvanced,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ch, err := apiClient.SubscribeEvents(ctx)
			if err != nil {
				return err
			}
			for ev := range ch {
				var payload any
				if err := json.Unmarshal(ev.Data, &payload); err != nil {
					payload = string(ev.Data)
				}
				cmd.Printf("%s %v\n", bold("%s", ev.Name), payload)
			}
			if ctx.Err() == nil {
				return fmt.Errorf("event stream closed by daemon")
			}
			return nil
		},
	}
}
