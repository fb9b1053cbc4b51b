package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oriys/s3cache/internal/cache"
	"github.com/oriys/s3cache/internal/config"
	"github.com/spf13/cobra"
)

// checkKey is written, read back and deleted by the check command.
const checkKey = "__s3cache_check__"

func timeoutFromSeconds(secs int) time.Duration {
	if secs < 0 {
		return cache.DefaultTimeout
	}
	if int64(secs) > config.MaxDefaultTimeout {
		return time.Duration(config.MaxDefaultTimeout) * time.Second
	}
	return time.Duration(secs) * time.Second
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value stored under a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, func(ctx context.Context, c cache.Cache) error {
				v, ok := c.Get(ctx, args[0])
				if ok {
					fmt.Fprintln(cmd.OutOrStdout(), v)
				}
				return result(ok)
			})
		},
	}
}

func setCmd() *cobra.Command {
	var timeoutS int
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a value under a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, func(ctx context.Context, c cache.Cache) error {
				return result(c.Set(ctx, args[0], args[1], timeoutFromSeconds(timeoutS)))
			})
		},
	}
	cmd.Flags().IntVar(&timeoutS, "timeout", -1, "Timeout in seconds (-1 = cache default, 0 = never expire)")
	return cmd
}

func addCmd() *cobra.Command {
	var timeoutS int
	cmd := &cobra.Command{
		Use:   "add <key> <value>",
		Short: "Store a value only if the key holds no live entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, func(ctx context.Context, c cache.Cache) error {
				ok := c.Add(ctx, args[0], args[1], timeoutFromSeconds(timeoutS))
				if !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "Key %s not added\n", args[0])
				}
				return result(ok)
			})
		},
	}
	cmd.Flags().IntVar(&timeoutS, "timeout", -1, "Timeout in seconds (-1 = cache default, 0 = never expire)")
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>...",
		Short: "Delete one or more keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, func(ctx context.Context, c cache.Cache) error {
				if len(args) == 1 {
					return result(c.Delete(ctx, args[0]))
				}
				return result(c.DeleteMany(ctx, args...))
			})
		},
	}
}

func hasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "has <key>",
		Short: "Report whether a key holds a live entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, func(ctx context.Context, c cache.Cache) error {
				ok := c.Has(ctx, args[0])
				fmt.Fprintln(cmd.OutOrStdout(), ok)
				return result(ok)
			})
		},
	}
}

func clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every entry under the key prefix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, func(ctx context.Context, c cache.Cache) error {
				return result(c.Clear(ctx))
			})
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the cache can write, read and delete an entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, func(ctx context.Context, c cache.Cache) error {
				return runCheck(ctx, c)
			})
		},
	}
}

// runCheck round-trips a random value through checkKey.
func runCheck(ctx context.Context, c cache.Cache) error {
	want := uuid.New().String()
	if !c.Set(ctx, checkKey, want, time.Minute) {
		return fmt.Errorf("check failed: set %s", checkKey)
	}
	got, ok := c.Get(ctx, checkKey)
	if !ok {
		return fmt.Errorf("check failed: get %s returned a miss", checkKey)
	}
	if got != want {
		return fmt.Errorf("check failed: get %s returned %q, want %q", checkKey, got, want)
	}
	if !c.Delete(ctx, checkKey) {
		return fmt.Errorf("check failed: delete %s", checkKey)
	}
	if c.Has(ctx, checkKey) {
		return fmt.Errorf("check failed: %s still present after delete", checkKey)
	}
	return nil
}
