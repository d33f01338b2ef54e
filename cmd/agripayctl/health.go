package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check every configured upstream once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, names, err := c.monitor(c.cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(names) == 0 {
				fmt.Fprintln(out, "no upstreams configured")
				return nil
			}

			down := 0
			for _, name := range names {
				state := "ok"
				if !m.Check(cmd.Context(), name).Healthy {
					state = "down"
					down++
				}
				fmt.Fprintf(out, "%-8s %s\n", name, state)
			}
			if down > 0 {
				return fmt.Errorf("%d of %d upstreams down", down, len(names))
			}
			return nil
		},
	}
}
