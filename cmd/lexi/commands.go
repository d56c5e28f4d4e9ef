package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kalambet/lexi/internal/config"
	"github.com/kalambet/lexi/internal/session"
	"github.com/kalambet/lexi/internal/storage"
)

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to LexiLLM in the terminal",
	Long: `Talk to LexiLLM in the terminal.

The conversation runs in-process: no server is needed, only a configured
model provider. Say goodbye (or press Ctrl-D) to leave.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		return runChat(cmd, userID)
	},
}

func init() {
	chatCmd.Flags().String("user", "local", "user ID to converse as")
}

func runChat(cmd *cobra.Command, userID string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Keep the transcript clean: only warnings and errors on stderr.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	deps, _, err := buildDeps(cfg, store)
	if err != nil {
		return err
	}

	s, err := session.New(uuid.NewString(), userID, sessionConfig(cfg), deps)
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}

	ctx := cmd.Context()
	botPrefix := colorize(colorBold, "LexiLLM:")
	youPrefix := colorize(colorCyan, "You:")

	fmt.Printf("%s %s\n", botPrefix, s.Welcome())

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Printf("%s ", youPrefix)
		if !scanner.Scan() {
			fmt.Println()
			s.End()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fmt.Printf("%s ", botPrefix)
		_, err := s.ProcessMessageStreaming(ctx, line, func(chunk string) error {
			fmt.Print(chunk)
			return nil
		})
		fmt.Println()
		if errors.Is(err, session.ErrEnded) {
			return nil
		}
		if err != nil {
			printError("turn failed: %v", err)
			continue
		}
		if !s.IsActive() {
			return nil
		}
	}
}

// --- sessions ---

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect live dialogue sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live sessions on the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/sessions")
		if err != nil {
			return err
		}

		var sessions []struct {
			SessionID  string `json:"session_id"`
			UserID     string `json:"user_id"`
			State      string `json:"state"`
			Active     bool   `json:"active"`
			LastActive string `json:"last_active"`
		}
		if err := decodeJSON(resp, &sessions); err != nil {
			return err
		}

		if len(sessions) == 0 {
			fmt.Println("No live sessions.")
			return nil
		}

		for _, s := range sessions {
			state := s.State
			if !s.Active {
				state = "ended"
			}
			fmt.Printf("%s  %-12s  %-20s  %s\n",
				colorize(colorCyan, s.SessionID[:8]),
				state,
				s.UserID,
				s.LastActive,
			)
		}
		return nil
	},
}

var sessionsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "End and remove a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/sessions/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Removed session %s", args[0])
		return nil
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsRemoveCmd)
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Inspect or adjust user profiles",
}

var profileShowCmd = &cobra.Command{
	Use:   "show <user>",
	Short: "Show a user's profile as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/profiles/"+args[0])
		if err != nil {
			return err
		}

		var p any
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set <user> <attribute> <value>",
	Short: "Set a profile attribute",
	Long: `Set a profile attribute directly.

Valid attributes: name, technical_level, interest_area, project_stage,
comparison_criterion, depth_preference.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, attribute, value := args[0], args[1], args[2]

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]string{attribute: value}
		resp, err := client.patch(cmd.Context(), "/profiles/"+user, body)
		if err != nil {
			return err
		}

		var p any
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}

		printSuccess("Set %s = %s for %s", attribute, value, user)
		return nil
	},
}

func init() {
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSetCmd)
}

// --- interactions ---

var interactionsCmd = &cobra.Command{
	Use:   "interactions <user>",
	Short: "List a user's recent turns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/profiles/%s/interactions?limit=%d", args[0], limit)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var interactions []struct {
			ID          string `json:"id"`
			CreatedAt   string `json:"created_at"`
			UserMessage string `json:"user_message"`
			Intent      string `json:"intent"`
		}
		if err := decodeJSON(resp, &interactions); err != nil {
			return err
		}

		if len(interactions) == 0 {
			fmt.Println("No interactions found.")
			return nil
		}

		for _, ix := range interactions {
			msg := ix.UserMessage
			if len(msg) > 80 {
				msg = msg[:80] + "..."
			}
			fmt.Printf("%s  %s  %-18s  %s\n",
				colorize(colorCyan, ix.ID[:8]),
				ix.CreatedAt,
				ix.Intent,
				msg,
			)
		}
		return nil
	},
}

func init() {
	interactionsCmd.Flags().Int("limit", 20, "maximum number of interactions to list")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		value, err := config.GetKey(cfg, args[0])
		if err != nil {
			return err
		}
		fmt.Println(value)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
}
