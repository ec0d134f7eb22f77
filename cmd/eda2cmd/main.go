// eda2cmd is the operator's command line tool for the EDA2 power
// controller daemon.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"eda2power/internal/client"
)

var (
	flagHost  string
	flagPort  int
	flagToken string
)

func newClient() *client.Client {
	return client.New(flagHost, flagPort, flagToken)
}

func cmdContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Minute)
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	root := &cobra.Command{
		Use:           "eda2cmd",
		Short:         "control an EDA2 power unit",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&flagHost, "host", "H", envDefault("EDA2_HOST", "localhost"),
		"daemon host (or EDA2_HOST)")
	root.PersistentFlags().IntVarP(&flagPort, "port", "p", client.DefaultPort, "daemon port")
	root.PersistentFlags().StringVar(&flagToken, "token", os.Getenv("EDA2_AUTH_TOKEN"),
		"API auth token (or EDA2_AUTH_TOKEN)")

	root.AddCommand(
		pingCmd(), versionCmd(),
		onCmd(), offCmd(), isOnCmd(), allOnCmd(), allOffCmd(),
		statusCmd(), envCmd(), historyCmd(),
		systemCmd("reboot", "reboot the control computer",
			"Rebooting drops ALL 32 outputs until the daemon restarts."),
		systemCmd("shutdown", "shut down the control computer",
			"Shutting down requires a SITE VISIT to restore power control."),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "eda2cmd:", err)
		os.Exit(1)
	}
}

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "check that the daemon is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			start := time.Now()
			if err := newClient().Ping(ctx); err != nil {
				return err
			}
			fmt.Printf("%s is alive (%.0f ms)\n", flagHost, time.Since(start).Seconds()*1000)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "report the daemon version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			v, err := newClient().Version(ctx)
			if err != nil {
				return err
			}
			fmt.Println(v)
			return nil
		},
	}
}

// printSwitchResults reports per-output outcomes and returns an error
// when any output failed, so the exit code reflects partial failures.
func printSwitchResults(results []client.SwitchResult) error {
	failed := 0
	for _, r := range results {
		if r.OK {
			fmt.Printf("%-3s ok\n", r.Output)
		} else {
			failed++
			fmt.Printf("%-3s FAILED: %s\n", r.Output, r.Error)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d outputs failed", failed, len(results))
	}
	return nil
}

func onCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "on <output>...",
		Short: "switch outputs on (names, banks, tile numbers, 'all', '-' excludes)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			results, err := newClient().TurnOn(ctx, args)
			if err != nil {
				return err
			}
			return printSwitchResults(results)
		},
	}
}

func offCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "off <output>...",
		Short: "switch outputs off",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			results, err := newClient().TurnOff(ctx, args)
			if err != nil {
				return err
			}
			return printSwitchResults(results)
		},
	}
}

func isOnCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ison <output>...",
		Short: "report the commanded state of outputs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			states, err := newClient().State(ctx, args)
			if err != nil {
				return err
			}
			for _, name := range sortedKeys(states) {
				fmt.Printf("%-3s %s\n", name, onOff(states[name]))
			}
			return nil
		},
	}
}

func allOnCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all-on",
		Short: "switch every switchable output on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			results, err := newClient().AllOn(ctx)
			if err != nil {
				return err
			}
			return printSwitchResults(results)
		},
	}
}

func allOffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all-off",
		Short: "switch every output off",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			if err := newClient().AllOff(ctx); err != nil {
				return err
			}
			fmt.Println("all outputs off")
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "show every output's state and sense readings, by tile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			status, err := newClient().Status(ctx)
			if err != nil {
				return err
			}
			fmt.Print(formatStatus(status))
			return nil
		},
	}
}

func envCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "show the enclosure climate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			env, err := newClient().Environment(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("temperature %.1f C, humidity %.1f %%\n", env.Temperature, env.Humidity)
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "show recent archived samples",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext()
			defer cancel()
			page, err := newClient().History(ctx, limit)
			if err != nil {
				return err
			}
			fmt.Print(formatHistory(page))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 32, "maximum samples to show")
	return cmd
}

// systemCmd builds the reboot and shutdown commands. Both print a
// warning, prompt, and then drive the daemon's two-step confirmation.
func systemCmd(name, short, warning string) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("WARNING: %s\n", warning)
			if !yes && !promptYesNo(fmt.Sprintf("Really %s %s?", name, flagHost)) {
				fmt.Println("aborted")
				return nil
			}

			ctx, cancel := cmdContext()
			defer cancel()
			c := newClient()

			call := c.Reboot
			if name == "shutdown" {
				call = c.Shutdown
			}

			challenge, err := call(ctx, "")
			if err != nil {
				return err
			}
			if challenge == nil {
				// The daemon executed without a challenge; nothing more
				// to do.
				fmt.Printf("%s under way\n", name)
				return nil
			}

			if _, err := call(ctx, challenge.Token); err != nil {
				return err
			}
			fmt.Printf("%s confirmed, all outputs off, %s under way\n", flagHost, name)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func promptYesNo(question string) bool {
	fmt.Printf("%s [y/N] ", question)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
