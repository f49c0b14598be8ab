package command

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var presenceCmd = &cobra.Command{
	Use:   "presence",
	Short: "Inspect which instance hosts each session",
}

var presenceGetCmd = &cobra.Command{
	Use:   "get <session-id>",
	Short: "Show the instance hosting a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Shutdown()

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		instance, ok := client.Presence().Get(ctx, args[0])
		if !ok {
			return fmt.Errorf("no presence recorded for %s", args[0])
		}
		fmt.Fprintln(cmd.OutOrStdout(), instance)
		return nil
	},
}

var presenceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every session with recorded presence",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Shutdown()

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		entries, err := client.Presence().Entries(ctx)
		if err != nil {
			return err
		}

		ids := make([]string, 0, len(entries))
		for id := range entries {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SESSION\tINSTANCE")
		for _, id := range ids {
			fmt.Fprintf(w, "%s\t%s\n", id, entries[id])
		}
		w.Flush()
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d session(s)\n", len(ids))
		return nil
	},
}

func init() {
	presenceCmd.AddCommand(presenceGetCmd, presenceListCmd)
	rootCmd.AddCommand(presenceCmd)
}
