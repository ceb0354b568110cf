package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Message store management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	cmd.AddCommand(newDBResetCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the message store",
		Long:  "Creates the SQLite database file, migrates all tables, and builds the search index.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	g, err := db.Connect(cfg.Store.Path)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(g); err != nil {
		return err
	}

	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))
	fmt.Fprintf(out, "Store ready at %s\n", cfg.Store.Path)
	return nil
}

func newDBResetCmd() *cobra.Command {
	var (
		configPath string
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop and recreate the message store",
		Long:  "Destroys all message history and rebuilds an empty store. Prompts for confirmation unless --force is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBReset(cmd, configPath, force)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip confirmation prompt")
	return cmd
}

func runDBReset(cmd *cobra.Command, configPath string, force bool) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if !force {
		fmt.Fprintf(out, "This will destroy all message history in %s. Continue? [y/N] ", cfg.Store.Path)
		reader := bufio.NewReader(cmd.InOrStdin())
		answer, _ := reader.ReadString('\n')
		if strings.TrimSpace(strings.ToLower(answer)) != "y" {
			fmt.Fprintln(out, "Aborted")
			return nil
		}
	}

	g, err := db.Connect(cfg.Store.Path)
	if err != nil {
		return err
	}
	if err := db.Reset(g); err != nil {
		return err
	}

	fmt.Fprintf(out, "Store reset at %s\n", cfg.Store.Path)
	return nil
}
