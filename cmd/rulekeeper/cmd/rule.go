package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/rulekeeper/internal/core/db"
	"github.com/solatis/rulekeeper/internal/types"
)

var (
	ruleFile  string
	actorID   int64
	adminID   int64
	combineOp string
)

var ruleCmd = &cobra.Command{
	Use:   "rule",
	Short: "Create, inspect and run audience rules",
}

var ruleCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a rule tree from a JSON definition",
	Args:  cobra.NoArgs,
	RunE: withStore(func(cmd *cobra.Command, e *env, store *db.Store, args []string) error {
		var def types.RuleDefinition
		if err := readJSON(cmd, ruleFile, &def); err != nil {
			return err
		}
		r, err := store.CreateRule(cmd.Context(), def, actorFlag(cmd))
		if err != nil {
			return err
		}
		return printJSON(cmd, r)
	}),
}

var ruleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List root rules",
	Args:  cobra.NoArgs,
	RunE: withStore(func(cmd *cobra.Command, e *env, store *db.Store, args []string) error {
		roots, err := store.ListRules(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tOPERATOR\tNAME")
		for _, r := range roots {
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.ID, r.LogicalOperator, r.Name)
		}
		return w.Flush()
	}),
}

var ruleShowCmd = &cobra.Command{
	Use:   "show <rule-id>",
	Short: "Print a stored rule tree",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(cmd *cobra.Command, e *env, store *db.Store, args []string) error {
		id, err := types.ParseRuleID(args[0])
		if err != nil {
			return fmt.Errorf("invalid rule id %q: %w", args[0], err)
		}
		r, err := store.GetRule(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(cmd, r)
	}),
}

var ruleUpdateCmd = &cobra.Command{
	Use:   "update <rule-id>",
	Short: "Replace a stored rule tree with a JSON definition",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(cmd *cobra.Command, e *env, store *db.Store, args []string) error {
		id, err := types.ParseRuleID(args[0])
		if err != nil {
			return fmt.Errorf("invalid rule id %q: %w", args[0], err)
		}
		var def types.RuleDefinition
		if err := readJSON(cmd, ruleFile, &def); err != nil {
			return err
		}
		r, err := store.UpdateRule(cmd.Context(), id, def, actorFlag(cmd))
		if err != nil {
			return err
		}
		return printJSON(cmd, r)
	}),
}

var ruleDeleteCmd = &cobra.Command{
	Use:   "delete <rule-id>",
	Short: "Delete a stored rule tree",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(cmd *cobra.Command, e *env, store *db.Store, args []string) error {
		id, err := types.ParseRuleID(args[0])
		if err != nil {
			return fmt.Errorf("invalid rule id %q: %w", args[0], err)
		}
		if err := store.DeleteRule(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
		return nil
	}),
}

var ruleCopyCmd = &cobra.Command{
	Use:   "copy <rule-id>",
	Short: "Copy a stored rule tree as \"<name> (copy)\"",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(cmd *cobra.Command, e *env, store *db.Store, args []string) error {
		id, err := types.ParseRuleID(args[0])
		if err != nil {
			return fmt.Errorf("invalid rule id %q: %w", args[0], err)
		}
		cp, err := store.CopyRule(cmd.Context(), id, actorFlag(cmd))
		if err != nil {
			return err
		}
		return printJSON(cmd, cp)
	}),
}

var ruleCombineCmd = &cobra.Command{
	Use:   "combine <rule-id> [rule-id...]",
	Short: "Join stored rules under a new parent rule",
	Args:  cobra.MinimumNArgs(1),
	RunE: withStore(func(cmd *cobra.Command, e *env, store *db.Store, args []string) error {
		ids := make([]types.RuleID, 0, len(args))
		for _, arg := range args {
			id, err := types.ParseRuleID(arg)
			if err != nil {
				return fmt.Errorf("invalid rule id %q: %w", arg, err)
			}
			ids = append(ids, id)
		}
		combined, err := store.CombineAndSave(cmd.Context(), types.LogicalOperator(combineOp), ids, actorFlag(cmd))
		if err != nil {
			return err
		}
		return printJSON(cmd, combined)
	}),
}

var ruleRevisionsCmd = &cobra.Command{
	Use:   "revisions <rule-id>",
	Short: "List the revisions recorded for a rule",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(cmd *cobra.Command, e *env, store *db.Store, args []string) error {
		id, err := types.ParseRuleID(args[0])
		if err != nil {
			return fmt.Errorf("invalid rule id %q: %w", args[0], err)
		}
		revisions, err := store.ListRevisions(cmd.Context(), id)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CREATED AT\tKEY\tACTOR\tSNAPSHOT")
		for _, rev := range revisions {
			actor := "-"
			if rev.ActorID != nil {
				actor = fmt.Sprint(*rev.ActorID)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", rev.CreatedAt.Format(time.RFC3339), rev.Key, actor, rev.Snapshot)
		}
		return w.Flush()
	}),
}

func init() {
	rootCmd.AddCommand(ruleCmd)
	ruleCmd.AddCommand(
		ruleCreateCmd,
		ruleListCmd,
		ruleShowCmd,
		ruleUpdateCmd,
		ruleDeleteCmd,
		ruleCopyCmd,
		ruleCombineCmd,
		ruleRevisionsCmd,
	)

	ruleCmd.PersistentFlags().Int64Var(&actorID, "actor", 0, "user id recorded on revisions (0 records none)")
	for _, c := range []*cobra.Command{ruleCreateCmd, ruleUpdateCmd} {
		c.Flags().StringVarP(&ruleFile, "file", "f", "-", "rule definition JSON file (- for stdin)")
	}
	ruleCombineCmd.Flags().StringVar(&combineOp, "op", string(types.LogicalAnd), "logical operator joining the rules (and, or)")
}

type storeRunE func(cmd *cobra.Command, e *env, store *db.Store, args []string) error

// withStore runs fn with an open store, closing it afterwards.
func withStore(fn storeRunE) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		store, err := e.openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.DB().Close()
		return fn(cmd, e, store, args)
	}
}

func actorFlag(cmd *cobra.Command) *types.UserID {
	if !cmd.Flags().Changed("actor") || actorID == 0 {
		return nil
	}
	id := types.UserID(actorID)
	return &id
}
