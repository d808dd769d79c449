package main

import (
	"fmt"

	"github.com/charlie0129/dualbatt/pkg/controller"
	"github.com/charlie0129/dualbatt/pkg/smoothing"
	"github.com/charlie0129/dualbatt/pkg/version"
)

// annotationServer marks commands that run a server instead of calling the
// daemon.
const annotationServer = "server"

// parseOverrideArg validates "auto" or a current in mA before it is sent.
func parseOverrideArg(args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("invalid number of arguments")
	}
	if _, _, err := controller.ParseOverride(args[0]); err != nil {
		return "", err
	}
	return args[0], nil
}

func getVersion() (clientVersion, daemonVersion string, err error) {
	daemonVersion, err = apiClient.GetVersion()
	return version.Version, daemonVersion, err
}

// formatCurrent prints a current with its direction.
func formatCurrent(mA int) string {
	switch {
	case mA > 0:
		return fmt.Sprintf("%d mA in", mA)
	case mA < 0:
		return fmt.Sprintf("%d mA out", -mA)
	default:
		return "0 mA"
	}
}

// formatPercent prints a state of charge, which is negative when unknown.
func formatPercent(p int) string {
	if p < 0 {
		return "unknown"
	}
	return fmt.Sprintf("%d%%", p)
}

func formatEstimate(e smoothing.Estimate) string {
	v, ok := e.Value()
	if !ok {
		return "unset"
	}
	return fmt.Sprintf("%d mW", v)
}
