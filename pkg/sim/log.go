// Package sim is an in-memory hardware backend: a charger, a detachable base,
// the base connector, the host and the fuel gauges. Every command is recorded
// so callers can assert on what was issued and in which order.
package sim

import (
	"fmt"
	"strings"
	"sync"
)

// Command is one recorded device call.
type Command struct {
	Device string
	Op     string
	Args   []int
}

func (c Command) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = fmt.Sprint(a)
	}
	return fmt.Sprintf("%s.%s(%s)", c.Device, c.Op, strings.Join(args, ","))
}

// Log is a command log shared by the devices of one board.
type Log struct {
	mu       sync.Mutex
	commands []Command
}

func (l *Log) record(device, op string, args ...int) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commands = append(l.commands, Command{Device: device, Op: op, Args: args})
}

// Commands returns a copy of the recorded commands.
func (l *Log) Commands() []Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Command, len(l.commands))
	copy(out, l.commands)
	return out
}

// Devices returns the device name of every recorded command, in order.
func (l *Log) Devices() []string {
	cmds := l.Commands()
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.Device
	}
	return out
}

// Reset forgets every recorded command.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commands = nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
