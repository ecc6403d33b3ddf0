package main

import (
	"fmt"
	"time"

	"SafeSwap-Chain/sdk/go/safeswap"

	"github.com/spf13/cobra"
)

func newLoginCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Open the server-side session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			acct, err := client.Login(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), acct)
		},
	}
}

func newLogoutCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Close the server-side session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			if err := client.Logout(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}

// runFlags are shared by the commands that start a sequence.
type runFlags struct {
	sync bool
	wait bool
	key  string
}

func (f *runFlags) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.sync, "sync", false, "run within the request instead of queueing")
	cmd.Flags().BoolVar(&f.wait, "wait", false, "wait for the queued task to finish")
	cmd.Flags().StringVar(&f.key, "key", "", "idempotency key for the queued task")
}

func (f *runFlags) options() safeswap.RunOptions {
	return safeswap.RunOptions{Sync: f.sync, IdempotencyKey: f.key}
}

func newCreateSafeCmd(opts *options) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "create-safe",
		Short: "Predict and deploy the caller's Safe",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			resp, err := client.CreateSafe(ctx, flags.options())
			if err != nil {
				return err
			}
			if flags.wait && resp.Task != nil {
				if resp.Task, err = client.WaitForTask(ctx, resp.Task.ID, 2*time.Second); err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	flags.bind(cmd)
	return cmd
}

func newCheckSafeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check-safe",
		Short: "Read the caller's Safe from chain",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			status, err := client.CheckSafe(ctx)
			if err != nil {
				return err
			}
			if status == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no safe recorded")
				return nil
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	}
}

func newInitSwapCmd(opts *options) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "init-swap",
		Short: "Place the configured swap through the caller's Safe",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			resp, err := client.InitSwap(ctx, flags.options())
			if err != nil {
				return err
			}
			if flags.wait && resp.Task != nil {
				if resp.Task, err = client.WaitForTask(ctx, resp.Task.ID, 2*time.Second); err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	flags.bind(cmd)
	return cmd
}

func newWalletCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "wallet",
		Short: "Show addresses and balances",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			wallet, err := client.Wallet(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "network: %s (%d)\n", wallet.Network.Name, wallet.Network.ChainID)
			fmt.Fprintf(out, "user:    %s  %s %s\n", wallet.User.Address, wallet.User.Display, wallet.Network.NativeToken)
			if wallet.Safe != nil {
				fmt.Fprintf(out, "safe:    %s  %s %s (%s)\n", wallet.Safe.Address, wallet.Safe.Display, wallet.Network.NativeToken, wallet.SafeState)
			} else {
				fmt.Fprintf(out, "safe:    none (%s)\n", wallet.SafeState)
			}
			if wallet.SafeAppURL != "" {
				fmt.Fprintf(out, "app:     %s\n", wallet.SafeAppURL)
			}
			return nil
		},
	}
}

func newTaskCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect queued sequences",
	}

	var list safeswap.ListTasksOptions
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the caller's tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			tasks, err := client.ListTasks(ctx, list)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), tasks)
		},
	}
	listCmd.Flags().StringSliceVar(&list.Statuses, "status", nil, "filter by status")
	listCmd.Flags().StringSliceVar(&list.Kinds, "kind", nil, "filter by kind (deploy_safe, init_swap)")
	listCmd.Flags().IntVar(&list.Limit, "limit", 20, "maximum number of tasks")

	var wait bool
	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			var t *safeswap.Task
			if wait {
				t, err = client.WaitForTask(ctx, args[0], 2*time.Second)
			} else {
				t, err = client.GetTask(ctx, args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), t)
		},
	}
	getCmd.Flags().BoolVar(&wait, "wait", false, "wait until the task finishes")

	cmd.AddCommand(listCmd, getCmd)
	return cmd
}

func newTokenCmd(opts *options) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a DID token for --user-key (development)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.userKey == "" {
				return fmt.Errorf("--user-key is required")
			}
			token, err := opts.issueToken(ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
