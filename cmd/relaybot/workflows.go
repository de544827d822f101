package main

import (
	"fmt"

	"relaybot/internal/domain"
	"relaybot/internal/workflow"

	"github.com/spf13/cobra"
)

func workflowsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflows",
		Short: "Manage persistent forwarding workflows",
		Long:  "List, create, toggle, and delete workflows that forward messages between the mail service and Telegram on a schedule.",
	}

	cmd.AddCommand(workflowsListCmd())
	cmd.AddCommand(workflowsCreateCmd())
	cmd.AddCommand(workflowsToggleCmd())
	cmd.AddCommand(workflowsDeleteCmd())
	cmd.AddCommand(workflowsLogCmd())
	cmd.AddCommand(workflowsImportCmd())

	return cmd
}

// openRegistry opens the workflow store and registry for management commands.
// Callers must Close the returned store.
func openRegistry() (*workflow.Registry, *workflow.Store, error) {
	cfg := loadConfigOrDefaults()
	if !cfg.Workflows.Enabled || cfg.Workflows.DBPath == "" {
		return nil, nil, fmt.Errorf("workflows are disabled (set workflows.enabled and workflows.dbPath)")
	}
	store, err := workflow.NewStore(cfg.Workflows.DBPath, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open workflow store: %w", err)
	}
	return workflow.NewRegistry(store, logger), store, nil
}

func workflowsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, store, err := openRegistry()
			if err != nil {
				return err
			}
			defer store.Close()

			workflows := registry.List()
			if len(workflows) == 0 {
				fmt.Println("No workflows. Create one with 'relaybot workflows create'.")
				return nil
			}

			fmt.Printf("%-10s %-24s %-20s %-8s %s\n", "ID", "NAME", "ROUTE", "ACTIVE", "FILTER")
			for _, wf := range workflows {
				id := wf.ID
				if len(id) > 8 {
					id = id[:8]
				}
				active := "no"
				if wf.Active {
					active = "yes"
				}
				route := wf.SourceService + " -> " + wf.DestinationService
				fmt.Printf("%-10s %-24s %-20s %-8s %s\n", id, wf.Name, route, active, wf.Filter)
			}
			return nil
		},
	}
}

func workflowsCreateCmd() *cobra.Command {
	var (
		name      string
		source    string
		dest      string
		filter    string
		recipient string
		chatID    string
		transform bool
		active    bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a workflow",
		Long:  "Creates a forwarding workflow. Example:\n  relaybot workflows create --name invoices --filter billing@cloudhost.example --chat @finance",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			if !validWorkflowService(source) || !validWorkflowService(dest) {
				return fmt.Errorf("source and destination must be mail or telegram")
			}
			if dest == "telegram" && chatID == "" {
				return fmt.Errorf("--chat is required for a telegram destination")
			}
			if dest == "mail" && recipient == "" {
				return fmt.Errorf("--recipient is required for a mail destination")
			}

			registry, store, err := openRegistry()
			if err != nil {
				return err
			}
			defer store.Close()

			created := registry.Create(domain.WorkflowDefinition{
				Name:               name,
				SourceService:      source,
				DestinationService: dest,
				Filter:             filter,
				Active:             active,
				TransformWithModel: transform,
				TargetRecipient:    recipient,
				TargetChatID:       chatID,
			})
			fmt.Printf("Workflow created: %s (%s)\n", created.Name, created.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "workflow name")
	cmd.Flags().StringVar(&source, "source", "mail", "source service (mail or telegram)")
	cmd.Flags().StringVar(&dest, "destination", "telegram", "destination service (mail or telegram)")
	cmd.Flags().StringVar(&filter, "filter", "", "sender filter applied to fetched messages")
	cmd.Flags().StringVar(&recipient, "recipient", "", "target address for a mail destination")
	cmd.Flags().StringVar(&chatID, "chat", "", "target chat for a telegram destination")
	cmd.Flags().BoolVar(&transform, "transform", false, "rewrite forwarded messages with the model")
	cmd.Flags().BoolVar(&active, "active", true, "start the workflow immediately")

	return cmd
}

func validWorkflowService(name string) bool {
	return name == "mail" || name == "telegram"
}

func workflowsToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle [id]",
		Short: "Start or stop a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, store, err := openRegistry()
			if err != nil {
				return err
			}
			defer store.Close()

			wf, ok := registry.ToggleActive(args[0])
			if !ok {
				return fmt.Errorf("no workflow with ID %s", args[0])
			}
			state := "stopped"
			if wf.Active {
				state = "started"
			}
			fmt.Printf("Workflow %s %s.\n", wf.Name, state)
			return nil
		},
	}
}

func workflowsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, store, err := openRegistry()
			if err != nil {
				return err
			}
			defer store.Close()

			if !registry.Delete(args[0]) {
				return fmt.Errorf("no workflow with ID %s", args[0])
			}
			fmt.Println("Workflow deleted.")
			return nil
		},
	}
}

func workflowsLogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log",
		Short: "Show recent workflow and relay activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, store, err := openRegistry()
			if err != nil {
				return err
			}
			defer store.Close()

			entries := registry.Activity()
			if len(entries) == 0 {
				fmt.Println("No activity yet.")
				return nil
			}
			for _, entry := range entries {
				fmt.Println(entry.String())
			}
			return nil
		},
	}
}

func workflowsImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [dir]",
		Short: "Import workflow definitions from a directory of YAML files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := workflow.LoadFromDirectory(args[0], logger)
			if err != nil {
				return err
			}

			registry, store, err := openRegistry()
			if err != nil {
				return err
			}
			defer store.Close()

			n := importDefinitions(registry, defs)
			fmt.Printf("Imported %d workflow(s) from %s\n", n, args[0])
			return nil
		},
	}
}
