package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"relaybot/internal/config"

	"github.com/spf13/cobra"
)

func wizardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wizard",
		Short: "Interactive setup: data dir → mail → telegram → generation → save config",
		Long:  "Guides you through the data directory, mail backend, Telegram bot, and generation engine. Writes config to the path used by --config or default.",
		RunE:  runWizard,
	}
}

func runWizard(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		cfg = config.Defaults()
	}

	reader := bufio.NewReader(os.Stdin)
	prompt := func(fallback string) (string, error) {
		if fallback != "" {
			fmt.Fprintf(os.Stdout, " [%s]: ", fallback)
		} else {
			fmt.Fprint(os.Stdout, ": ")
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" && fallback != "" {
			return fallback, nil
		}
		return s, nil
	}
	yes := func(s string) bool {
		s = strings.ToLower(s)
		return s == "y" || s == "yes"
	}

	// Step 1: Data directory
	fmt.Println("\n--- Step 1: Data directory ---")
	dataDir := cfg.General.DataDir
	if dataDir == "" {
		dataDir = "~/.relaybot"
	}
	fmt.Fprint(os.Stdout, "Directory for relay data (workflow database, logs)")
	dd, err := prompt(dataDir)
	if err != nil {
		return err
	}
	cfg.General.DataDir = config.ExpandPath(dd)
	if err := os.MkdirAll(cfg.General.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	fmt.Fprintf(os.Stdout, "  Using data directory: %s\n", cfg.General.DataDir)

	// Step 2: Mail backend
	fmt.Println("\n--- Step 2: Mail service ---")
	fmt.Println("Without a backend, mail fetches serve demo data and sends are simulated.")
	fmt.Fprint(os.Stdout, "Mail backend base URL (empty keeps demo mode)")
	baseURL, err := prompt(cfg.Mail.BaseURL)
	if err != nil {
		return err
	}
	cfg.Mail.Enabled = true
	cfg.Mail.BaseURL = baseURL
	if baseURL != "" {
		fmt.Fprint(os.Stdout, "Mail API token: paste token or env var (e.g. ${RELAY_MAIL_TOKEN})")
		token, err := prompt(cfg.Mail.Token)
		if err != nil {
			return err
		}
		cfg.Mail.Token = token
		cfg.Mail.Fallback = false
		cfg.Mail.SimulateSend = false
		fmt.Fprintf(os.Stdout, "  Using mail backend: %s\n", baseURL)
	} else {
		cfg.Mail.Fallback = true
		cfg.Mail.SimulateSend = true
		fmt.Fprintln(os.Stdout, "  Using demo mode.")
	}

	// Step 3: Telegram
	fmt.Println("\n--- Step 3: Telegram ---")
	fmt.Fprint(os.Stdout, "Enable the Telegram bot? (y/N)")
	enableTg, err := prompt("")
	if err != nil {
		return err
	}
	cfg.Telegram.Enabled = yes(enableTg)
	if cfg.Telegram.Enabled {
		fmt.Fprint(os.Stdout, "Telegram bot token (@BotFather hands these out)")
		tok, err := prompt(cfg.Telegram.Token)
		if err != nil {
			return err
		}
		cfg.Telegram.Token = tok

		fmt.Fprint(os.Stdout, "Allowed user IDs, comma-separated (empty allows everyone)")
		allow, err := prompt(strings.Join(cfg.Telegram.AllowFrom, ","))
		if err != nil {
			return err
		}
		cfg.Telegram.AllowFrom = nil
		for _, id := range strings.Split(allow, ",") {
			if id = strings.TrimSpace(id); id != "" {
				cfg.Telegram.AllowFrom = append(cfg.Telegram.AllowFrom, id)
			}
		}

		fmt.Fprint(os.Stdout, "Default chat for relayed messages (e.g. @mychannel)")
		chat, err := prompt(cfg.Telegram.DefaultChat)
		if err != nil {
			return err
		}
		cfg.Telegram.DefaultChat = chat
	}
	fmt.Fprintf(os.Stdout, "  Telegram enabled: %v\n", cfg.Telegram.Enabled)

	// Step 4: Generation engine
	fmt.Println("\n--- Step 4: Generation engine ---")
	fmt.Fprint(os.Stdout, "Enable free-text chat through Ollama? (Y/n)")
	enableGen, err := prompt("y")
	if err != nil {
		return err
	}
	cfg.Generation.Enabled = yes(enableGen)
	if cfg.Generation.Enabled {
		fmt.Fprint(os.Stdout, "Ollama base URL")
		apiBase, err := prompt(cfg.Generation.APIBase)
		if err != nil {
			return err
		}
		cfg.Generation.APIBase = apiBase

		fmt.Fprint(os.Stdout, "Model")
		model, err := prompt(cfg.Generation.Model)
		if err != nil {
			return err
		}
		cfg.Generation.Model = model
	}
	fmt.Fprintf(os.Stdout, "  Generation enabled: %v\n", cfg.Generation.Enabled)

	// Keep the workflow database inside the chosen data directory.
	const defaultDB = "~/.relaybot/workflows.db"
	if cfg.Workflows.DBPath == "" || cfg.Workflows.DBPath == defaultDB ||
		cfg.Workflows.DBPath == config.ExpandPath(defaultDB) {
		cfg.Workflows.DBPath = filepath.Join(cfg.General.DataDir, "workflows.db")
	}

	// Save
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
		return fmt.Errorf("config directory: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("answers do not validate: %w", err)
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "\nWrote %s\n", cfgPath)
	fmt.Println("Next: run 'relaybot chat' for the CLI, or 'relaybot gateway' for Telegram.")
	return nil
}
