package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/agripay/internal/apikey"
)

func newKeysCmd(c *cli) *cobra.Command {
	keys := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}

	var (
		name  string
		roles []string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue a new API key and print it once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			creator, closeFn, err := c.openKeys(cmd.Context(), c.cfg)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer closeFn()

			key, raw, err := apikey.Issue(cmd.Context(), creator, name, roles)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "created key %q (id %s, roles %s)\n", key.Name, key.ID, strings.Join(key.Roles, ","))
			fmt.Fprintf(out, "key: %s\n", raw)
			fmt.Fprintln(out, "Store this key now; it cannot be shown again.")
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "key name (unique)")
	create.Flags().StringSliceVar(&roles, "role", nil, "role to grant: "+strings.Join(apikey.Roles, ", ")+" (repeatable)")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("role")

	keys.AddCommand(create)
	return keys
}
