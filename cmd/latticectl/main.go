// Command latticectl is the lattice control client: one subcommand per
// control-protocol command, plus a colorized human-readable status view.
package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lattice-svc/lattice/pkg/ctlproto"
)

var socketPath string

func main() {
	root := &cobra.Command{
		Use:   "latticectl",
		Short: "control client for the lattice service supervisor",
	}
	root.PersistentFlags().StringVar(&socketPath, "socket", "/run/lattice/control.sock", "control protocol unix socket path")

	root.AddCommand(
		newNamedCmd("find", ctlproto.CmdFind, "load a service without starting it"),
		newNamedCmd("start", ctlproto.CmdStart, "start a service"),
		newNamedCmd("stop", ctlproto.CmdStop, "stop a service"),
		newNamedCmd("restart", ctlproto.CmdRestart, "restart a service"),
		newNamedCmd("pin", ctlproto.CmdPin, "pin a service started"),
		newNamedCmd("unpin", ctlproto.CmdUnpin, "lift a pin"),
		newNamedCmd("release", ctlproto.CmdRelease, "release an explicit activation"),
		newNamedCmd("trigger", ctlproto.CmdTrigger, "fire a triggered service"),
		newLogCmd(),
		newListCmd(),
		newShutdownCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func dial() (*ctlproto.Client, error) {
	return ctlproto.Dial(socketPath, 5*time.Second)
}

func newNamedCmd(use string, cmd ctlproto.Command, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <service>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			return c.Call(cmd, ctlproto.NamedRequest{Name: args[0]}, nil)
		},
	}
}

func newLogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log <service>",
		Short: "print a service's captured log buffer",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			var reply ctlproto.LogReply
			if err := c.Call(ctlproto.CmdLog, ctlproto.NamedRequest{Name: args[0]}, &reply); err != nil {
				return err
			}
			for _, line := range reply.Lines {
				fmt.Println(line)
			}
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list every loaded service and its status",
		Aliases: []string{"status"},
		RunE: func(_ *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			var reply ctlproto.ListReply
			if err := c.Call(ctlproto.CmdList, struct{}{}, &reply); err != nil {
				return err
			}
			printStatusTable(reply.Services)
			return nil
		},
	}
}

func printStatusTable(svcs []ctlproto.StatusReply) {
	sort.Slice(svcs, func(i, j int) bool { return svcs[i].Name < svcs[j].Name })

	fmt.Printf("%-20s %-10s %-9s %-9s %s\n", "NAME", "KIND", "STATE", "DESIRED", "PID")
	for _, s := range svcs {
		stateColor := colorForState(s.State)
		fmt.Printf("%-20s %-10s %s %-9s %d\n",
			s.Name, s.Kind, stateColor(fmt.Sprintf("%-9s", s.State)), s.Desired, s.PID)
	}
}

func colorForState(state string) func(format string, a ...interface{}) string {
	switch state {
	case "started":
		return color.GreenString
	case "starting", "stopping":
		return color.YellowString
	case "stopped":
		return color.New(color.FgRed).SprintfFunc()
	default:
		return fmt.Sprintf
	}
}

func newShutdownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown <halt|poweroff|reboot|soft-reboot>",
		Short: "request an orderly shutdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			return c.Call(ctlproto.CmdShutdown, ctlproto.ShutdownRequest{Type: args[0]}, nil)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the daemon's control protocol version",
		RunE: func(_ *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			var reply ctlproto.VersionReply
			if err := c.Call(ctlproto.CmdVersion, struct{}{}, &reply); err != nil {
				return err
			}
			fmt.Println(reply.Version)
			return nil
		},
	}
}
