// eda2-nagios is the Nagios/Icinga check plugin for the EDA2 power
// controller. It prints a single status line with perfdata and exits
// with the plugin state code.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"eda2power/internal/check"
	"eda2power/internal/client"
)

// checkTimeout keeps the plugin well inside Nagios's own service check
// timeout.
const checkTimeout = 20 * time.Second

func main() {
	var (
		host  string
		port  int
		token string
		th    = check.DefaultThresholds()
	)

	cmd := &cobra.Command{
		Use:           "eda2-nagios",
		Short:         "Nagios check for an EDA2 power unit",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			result := runCheck(host, port, token, th)
			fmt.Println(result.Output)
			os.Exit(int(result.State))
		},
	}

	cmd.Flags().StringVarP(&host, "host", "H", "localhost", "daemon host")
	cmd.Flags().IntVarP(&port, "port", "p", client.DefaultPort, "daemon port")
	cmd.Flags().StringVar(&token, "token", os.Getenv("EDA2_AUTH_TOKEN"),
		"API auth token (or EDA2_AUTH_TOKEN)")
	cmd.Flags().Float64Var(&th.TempWarn, "temp-warn", th.TempWarn, "temperature warning threshold (C)")
	cmd.Flags().Float64Var(&th.TempCrit, "temp-crit", th.TempCrit, "temperature critical threshold (C)")
	cmd.Flags().Float64Var(&th.HumidityWarn, "humidity-warn", th.HumidityWarn, "humidity warning threshold (%)")
	cmd.Flags().Float64Var(&th.HumidityCrit, "humidity-crit", th.HumidityCrit, "humidity critical threshold (%)")

	if err := cmd.Execute(); err != nil {
		// Bad flags and such must still come out as a plugin state.
		fmt.Printf("EDA2 UNKNOWN - %v\n", err)
		os.Exit(int(check.StateUnknown))
	}
}

// runCheck gathers readings from the daemon and evaluates them. Each
// fetch failure is carried into the evaluation rather than aborting, so
// a dead climate sensor degrades to WARNING instead of masking the
// power state.
func runCheck(host string, port int, token string, th check.Thresholds) check.Result {
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	c := client.New(host, port, token, client.WithTimeout(checkTimeout))

	in := check.Input{PingErr: c.Ping(ctx)}
	if in.PingErr == nil {
		in.Env, in.EnvErr = c.Environment(ctx)
		in.Status, in.StatusErr = c.Status(ctx)
	}
	return check.Evaluate(in, th)
}
