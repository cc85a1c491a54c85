package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/solatis/rulekeeper/internal/rules"
)

var importCmd = &cobra.Command{
	Use:   "import <directory.json>",
	Short: "Load a directory fixture (fields, users, roles) into an empty database",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

// loadDirectory reads a MemoryDirectory JSON document.
func loadDirectory(path string) (*rules.MemoryDirectory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return rules.DecodeMemoryDirectory(f)
}

func runImport(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	dir, err := loadDirectory(args[0])
	if err != nil {
		return err
	}

	store, err := e.openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer store.DB().Close()

	if err := store.ImportDirectory(cmd.Context(), dir); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d fields, %d users, %d roles\n", len(dir.Fields), len(dir.Users), len(dir.Roles))
	return nil
}
