package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/danmuck/deployctl/internal/config"
	"github.com/danmuck/deployctl/internal/deploy"
	"github.com/danmuck/deployctl/internal/inventory"
	"github.com/spf13/cobra"
)

func newPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan <task>",
		Short: "Print the hook order for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			graph, err := deploy.NewGraph()
			if err != nil {
				return err
			}
			plan, err := graph.Plan(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, name := range plan {
				fmt.Fprintf(out, "%d. %s\n", i+1, name)
			}
			return nil
		},
	}
}

func newTasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List built-in tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			graph, err := deploy.NewGraph()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, task := range graph.Tasks() {
				roles := strings.Join(task.Roles, ",")
				if roles == "" {
					roles = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", task.Name, roles, task.Description)
			}
			return w.Flush()
		},
	}
}

func newHostsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "hosts [role]",
		Short: "Print resolved hosts, optionally for one role",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath, opts.stage)
			if err != nil {
				return err
			}
			inv, err := inventory.New(cfg.Servers, cfg.SSH)
			if err != nil {
				return err
			}

			role := inventory.RoleAll
			if len(args) == 1 {
				role = args[0]
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, host := range inv.Select(role) {
				target := host.String()
				if host.Local {
					target += " (local)"
				}
				fmt.Fprintf(w, "%s\t%s\n", target, strings.Join(host.Roles, ","))
			}
			return w.Flush()
		},
	}
}

func newConfigCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create, show or validate the deploy config",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(opts.configPath, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", opts.configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the resolved config for the selected stage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath, opts.stage)
			if err != nil {
				return err
			}
			raw, err := config.Render(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(raw)
			return err
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath, opts.stage)
			if err != nil {
				return err
			}
			inv, err := inventory.New(cfg.Servers, cfg.SSH)
			if err != nil {
				return err
			}
			stage := cfg.Stage
			if stage == "" {
				stage = "-"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: application=%s stage=%s servers=%d roles=%s\n",
				cfg.Application, stage, len(inv.All()), strings.Join(inv.Roles(), ","))
			return nil
		},
	}

	cmd.AddCommand(initCmd, showCmd, validateCmd)
	return cmd
}
