package main

import (
	"context"
	"fmt"
	"os/signal"
	"sort"
	"syscall"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/raaihank/exdfilter/internal/app"
)

var tokensUnresolved bool

// tokensCmd groups token store commands
var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Inspect and update the placeholder token store",
}

var tokensSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fill empty fallback values from the override feeds",
	Long: `Loads paths.token_store and fills every empty fallback value from the
configured override feeds (local files, the remote override listing and
its Redis mirror). Primary values and existing fallbacks are never
overwritten.`,
	Args: cobra.NoArgs,
	RunE: runTokensSync,
}

var tokensListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored tokens",
	Args:  cobra.NoArgs,
	RunE:  runTokensList,
}

func init() {
	tokensListCmd.Flags().BoolVar(&tokensUnresolved, "unresolved", false, "Only list tokens without a primary value")
}

func runTokensSync(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := app.New(cfg, log)
	defer a.Close()

	filled, err := a.SyncTokens(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Filled %d token fallbacks in %s\n", filled, a.Tokens().Path())
	return nil
}

func runTokensList(cmd *cobra.Command, args []string) error {
	store := app.New(cfg, log).Tokens()
	if err := store.Load(); err != nil {
		return err
	}

	if tokensUnresolved {
		for _, token := range store.Unresolved() {
			fmt.Println(token)
		}
		return nil
	}

	tokens := store.Tokens()
	keys := lo.Keys(tokens)
	sort.Strings(keys)
	for _, token := range keys {
		pair := tokens[token]
		fmt.Printf("%s\t%s\t%s\n", token, pair.Primary(), pair.Fallback())
	}
	return nil
}
