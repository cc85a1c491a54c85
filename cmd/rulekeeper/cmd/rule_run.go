package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/rulekeeper/internal/core/db"
	"github.com/solatis/rulekeeper/internal/rules"
	"github.com/solatis/rulekeeper/internal/types"
)

var (
	runRuleFile  string
	directoryArg string
	userArg      int64
)

var ruleUsersCmd = &cobra.Command{
	Use:   "users [rule-id]",
	Short: "List the users a rule selects",
	Args:  cobra.MaximumNArgs(1),
	RunE: withStore(func(cmd *cobra.Command, e *env, store *db.Store, args []string) error {
		ctx := cmd.Context()
		rule, err := targetRule(cmd, store, args)
		if err != nil {
			return err
		}
		admin, err := storeAdmin(ctx, cmd, store)
		if err != nil {
			return err
		}
		p, err := e.engine(store).Compile(ctx, rule, admin)
		if err != nil {
			return err
		}
		ids, err := store.SelectUserIDs(ctx, p)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	}),
}

var ruleSQLCmd = &cobra.Command{
	Use:   "sql [rule-id]",
	Short: "Print the SQL a rule compiles to",
	Long: `Print the SQL a rule compiles to, with '?' placeholders followed by the bound arguments.
With --directory the rule is compiled against a directory fixture instead of the database.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRuleSQL,
}

var ruleCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate a rule definition against one user of a directory fixture",
	Args:  cobra.NoArgs,
	RunE:  runRuleCheck,
}

func init() {
	ruleCmd.AddCommand(ruleUsersCmd, ruleSQLCmd, ruleCheckCmd)

	for _, c := range []*cobra.Command{ruleUsersCmd, ruleSQLCmd, ruleCheckCmd} {
		c.Flags().StringVarP(&runRuleFile, "file", "f", "", "rule definition JSON file instead of a stored rule (- for stdin)")
		c.Flags().Int64Var(&adminID, "admin", 0, "user id substituted for ADMIN_VALUE")
	}
	for _, c := range []*cobra.Command{ruleSQLCmd, ruleCheckCmd} {
		c.Flags().StringVar(&directoryArg, "directory", "", "directory fixture JSON (see 'rulekeeper import')")
	}
	ruleCheckCmd.Flags().Int64Var(&userArg, "user", 0, "user id to evaluate")
	ruleCheckCmd.MarkFlagRequired("user")
	ruleCheckCmd.MarkFlagRequired("directory")
	ruleCheckCmd.MarkFlagRequired("file")
}

// targetRule loads the stored rule named in args or reads --file.
func targetRule(cmd *cobra.Command, store *db.Store, args []string) (*types.Rule, error) {
	switch {
	case len(args) == 1 && runRuleFile != "":
		return nil, fmt.Errorf("give either a rule id or --file, not both")
	case len(args) == 1:
		if store == nil {
			return nil, fmt.Errorf("stored rules need a database; use --file")
		}
		id, err := types.ParseRuleID(args[0])
		if err != nil {
			return nil, fmt.Errorf("invalid rule id %q: %w", args[0], err)
		}
		return store.GetRule(cmd.Context(), id)
	case runRuleFile != "":
		var def types.RuleDefinition
		if err := readJSON(cmd, runRuleFile, &def); err != nil {
			return nil, err
		}
		if _, err := rules.LookupLogical(def.LogicalOperator); err != nil {
			return nil, err
		}
		return types.NewRule(def), nil
	default:
		return nil, fmt.Errorf("rule id or --file required")
	}
}

func storeAdmin(ctx context.Context, cmd *cobra.Command, store *db.Store) (*types.User, error) {
	if !cmd.Flags().Changed("admin") {
		return nil, nil
	}
	return store.GetUser(ctx, types.UserID(adminID))
}

func memoryAdmin(cmd *cobra.Command, dir *rules.MemoryDirectory) (*types.User, error) {
	if !cmd.Flags().Changed("admin") {
		return nil, nil
	}
	return dir.User(types.UserID(adminID))
}

func runRuleSQL(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := setup(cmd)
	if err != nil {
		return err
	}

	var (
		dir   rules.Directory
		rule  *types.Rule
		admin *types.User
	)
	if directoryArg != "" {
		mem, err := loadDirectory(directoryArg)
		if err != nil {
			return err
		}
		if rule, err = targetRule(cmd, nil, args); err != nil {
			return err
		}
		if admin, err = memoryAdmin(cmd, mem); err != nil {
			return err
		}
		dir = mem
	} else {
		store, err := e.openStore(ctx)
		if err != nil {
			return err
		}
		defer store.DB().Close()
		if rule, err = targetRule(cmd, store, args); err != nil {
			return err
		}
		if admin, err = storeAdmin(ctx, cmd, store); err != nil {
			return err
		}
		dir = store
	}

	p, err := e.engine(dir).Compile(ctx, rule, admin)
	if err != nil {
		return err
	}
	query, bound := rules.SelectUserIDs(p)
	fmt.Fprintln(cmd.OutOrStdout(), query)
	return printJSON(cmd, bound)
}

func runRuleCheck(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	dir, err := loadDirectory(directoryArg)
	if err != nil {
		return err
	}
	rule, err := targetRule(cmd, nil, args)
	if err != nil {
		return err
	}
	user, err := dir.User(types.UserID(userArg))
	if err != nil {
		return err
	}
	admin, err := memoryAdmin(cmd, dir)
	if err != nil {
		return err
	}

	start := time.Now()
	matched, err := e.engine(dir).Evaluate(cmd.Context(), rule, user, admin)
	if err != nil {
		return err
	}
	e.logger.Debug().Dur("duration", time.Since(start)).Msg("rule evaluated")

	return printJSON(cmd, map[string]any{
		"user_id": user.ID,
		"matched": matched,
	})
}
