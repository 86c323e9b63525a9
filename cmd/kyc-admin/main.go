package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"kyc-document-api/bootstrap"
	"kyc-document-api/config"
	"kyc-document-api/services"
)

const adminActor = "kyc-admin"

func main() {
	rootCmd := &cobra.Command{
		Use:   "kyc-admin",
		Short: "Maintenance commands for the KYC document store",
	}
	rootCmd.PersistentFlags().Bool("json", false, "Print results as JSON")

	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(orphansCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env is what every subcommand needs.
type env struct {
	cfg    *config.Config
	log    *zap.Logger
	core   *bootstrap.Core
	closer func()
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log, flush, err := config.NewLogger(cfg)
	if err != nil {
		return nil, err
	}
	core, err := bootstrap.OpenCore(ctx, cfg, log)
	if err != nil {
		flush()
		return nil, err
	}
	return &env{cfg: cfg, log: log, core: core, closer: func() {
		core.Close()
		flush()
	}}, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed-categories",
		Short: "Upsert document categories from a YAML file (defaults to the built-in set)",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.closer()

			path, _ := cmd.Flags().GetString("file")
			data, err := config.CategorySeed(e.cfg)
			if path != "" {
				data, err = os.ReadFile(path)
			}
			if err != nil {
				return fmt.Errorf("read seed: %w", err)
			}
			n, err := e.core.Categories.Seed(cmd.Context(), data, false)
			if err != nil {
				return err
			}
			fmt.Printf("Categories upserted: %d\n", n)
			return nil
		},
	}
	cmd.Flags().StringP("file", "f", "", "YAML seed file")
	return cmd
}

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Find users with more than one active document per category",
		Long: `Lists every (user, category) pair holding more than one active document.
With --apply the newest document is kept and the others are archived and their
objects deleted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.closer()

			apply, _ := cmd.Flags().GetBool("apply")
			asJSON, _ := cmd.Flags().GetBool("json")

			r := services.NewReconciler(e.core.Ledger, e.core.Storage, e.core.Storage, e.log)
			actions, effects, err := r.Duplicates(cmd.Context(), apply, adminActor)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(actions)
			}
			for _, a := range actions {
				fmt.Printf("%s/%s keep %s, retire %v\n", a.UserID, a.CategoryID, a.KeptID, a.RetiredIDs)
			}
			fmt.Printf("Pairs with duplicates: %d (applied: %t)\n", len(actions), apply)
			if !effects.Empty() {
				fmt.Printf("Warnings: %s\n", effects)
			}
			return nil
		},
	}
	cmd.Flags().Bool("apply", false, "Archive the extra documents")
	return cmd
}

func orphansCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "List stored objects that no document references",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.closer()

			apply, _ := cmd.Flags().GetBool("apply")
			asJSON, _ := cmd.Flags().GetBool("json")
			grace, _ := cmd.Flags().GetDuration("grace")

			r := services.NewReconciler(e.core.Ledger, e.core.Storage, e.core.Storage, e.log).WithGracePeriod(grace)
			orphans, err := r.Orphans(cmd.Context(), apply)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(orphans)
			}
			for _, key := range orphans {
				fmt.Println(key)
			}
			fmt.Printf("Orphaned objects: %d (deleted: %t)\n", len(orphans), apply)
			return nil
		},
	}
	cmd.Flags().Bool("apply", false, "Delete the orphaned objects")
	cmd.Flags().Duration("grace", services.DefaultOrphanGrace, "Skip objects modified more recently than this")
	return cmd
}
