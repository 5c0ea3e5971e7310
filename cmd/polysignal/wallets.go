package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newWalletsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallets",
		Short: "Manage the tracked wallet list",
	}

	// withApp loads the app, runs fn, then mirrors the list into the store.
	withApp := func(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := fn(cmd, a, args); err != nil {
				return err
			}
			return a.wallets.Sync(cmd.Context(), a.store)
		}
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List tracked wallets",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WALLET\tNAME")
			for _, u := range a.wallets.All() {
				fmt.Fprintf(w, "%s\t%s\n", u.Wallet, u.Name)
			}
			return w.Flush()
		}),
	}

	var name string
	add := &cobra.Command{
		Use:   "add <address>",
		Short: "Track a wallet",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			if err := a.wallets.Add(name, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tracking %s\n", a.wallets.DisplayName(args[0]))
			return nil
		}),
	}
	add.Flags().StringVar(&name, "name", "", "display name")

	remove := &cobra.Command{
		Use:   "remove <address>",
		Short: "Stop tracking a wallet",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			return a.wallets.Remove(args[0])
		}),
	}

	rename := &cobra.Command{
		Use:   "rename <address> <name>",
		Short: "Change a wallet's display name",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			return a.wallets.Rename(args[0], args[1])
		}),
	}

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Merge wallets from a YAML or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			n, err := a.wallets.Import(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d wallets, %d tracked\n", n, a.wallets.Len())
			return nil
		}),
	}

	cmd.AddCommand(list, add, remove, rename, importCmd)
	return cmd
}
