package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/dualbatt/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
		},
	}
}

func NewChargeCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "charge <auto|mA>",
		Short:   "Set the base input current on AC",
		GroupID: gBasic,
		Long: `Set the input current given to the base while on AC.

A current in mA pins the base input current. The lid gets the rest of the
adapter current. "auto" hands the split back to the power budget.`,
		RunE: func(_ *cobra.Command, args []string) error {
			v, err := parseOverrideArg(args)
			if err != nil {
				return err
			}

			ret, err := apiClient.SetManualCharge(v)
			if err != nil {
				return fmt.Errorf("failed to set manual charge: %w", err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}

			return nil
		},
	}
}

func NewDischargeCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "discharge <auto|mA>",
		Short:   "Set the current moved between batteries without AC",
		GroupID: gBasic,
		Long: `Set the current moved between the batteries while on battery.

A positive current in mA moves charge from the lid to the base, a negative
one from the base to the lid. "auto" lets dualbatt decide again.`,
		RunE: func(_ *cobra.Command, args []string) error {
			v, err := parseOverrideArg(args)
			if err != nil {
				return err
			}

			ret, err := apiClient.SetManualDischarge(v)
			if err != nil {
				return fmt.Errorf("failed to set manual discharge: %w", err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}

			return nil
		},
	}
}
