// Package main is the entry point for the copilot CLI.
package main

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/shuaihuadu/chat-copilot-quickstart/internal/chat"
	"github.com/shuaihuadu/chat-copilot-quickstart/internal/config"
	"github.com/shuaihuadu/chat-copilot-quickstart/internal/search"
	"github.com/shuaihuadu/chat-copilot-quickstart/internal/store"
	"github.com/shuaihuadu/chat-copilot-quickstart/modules/provider/openai"
	"github.com/shuaihuadu/chat-copilot-quickstart/modules/store/sqlite"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "copilot",
		Short:         "A memory-augmented chat assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(versionCmd(), chatCmd(), configCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("copilot %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with the assistant; without a message, reads lines from stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}

			logger := cfg.Logging.NewLogger(os.Stderr)
			registry := prometheus.NewRegistry()

			if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
				go func() {
					if err := http.ListenAndServe(addr, mux); err != nil {
						logger.Error("metrics server stopped", "error", err)
					}
				}()
			}

			sessions, messages, cleanup, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			backend, err := openai.New(cfg.Provider)
			if err != nil {
				return err
			}

			pipeline, err := chat.NewPipeline(cfg.Chat, chat.Dependencies{
				Sessions: sessions,
				Messages: messages,
				Index:    search.NewMemIndex(),
				Provider: backend,
				Notifier: chat.LogNotifier{Logger: logger},
				Metrics:  chat.NewMetrics(registry),
				Logger:   logger,
			})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			chatID, _ := cmd.Flags().GetString("chat-id")
			if chatID == "" {
				session := store.NewSession("CLI chat", "")
				if err := sessions.Save(ctx, session); err != nil {
					return fmt.Errorf("create session: %w", err)
				}
				chatID = session.ID
				fmt.Fprintln(os.Stderr, "chat id:", chatID)
			}

			userID, _ := cmd.Flags().GetString("user")
			userName, _ := cmd.Flags().GetString("name")

			turn := func(text string) error {
				bot, err := pipeline.ProcessTurn(ctx, chat.TurnRequest{
					ChatID:   chatID,
					UserID:   userID,
					UserName: userName,
					Content:  text,
				})
				if err != nil {
					return err
				}
				fmt.Println(bot.Content)
				for _, c := range bot.Citations {
					fmt.Printf("  [%s] %s\n", c.SourceName, c.Link)
				}
				return nil
			}

			if len(args) == 1 {
				return turn(args[0])
			}

			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					break
				}
				text := strings.TrimSpace(scanner.Text())
				if text == "" {
					continue
				}
				if err := turn(text); err != nil {
					fmt.Fprintln(os.Stderr, "Error:", err)
				}
			}
			return scanner.Err()
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to configuration file")
	cmd.Flags().String("chat-id", "", "Continue an existing chat session")
	cmd.Flags().String("user", chat.DefaultUserID, "User ID for the turn")
	cmd.Flags().String("name", "You", "Display name for the turn")
	cmd.Flags().String("metrics-addr", "", "Expose Prometheus metrics on this address")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <path>",
		Short: "Validate configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			fmt.Println("Configuration OK")
			return nil
		},
	})
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		resolved, err := resolveConfigPath()
		if err != nil {
			return nil, err
		}
		path = resolved
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore builds the configured repositories and a cleanup func.
func openStore(cfg *config.Config) (store.SessionRepository, store.MessageRepository, func(), error) {
	if cfg.Store.Backend == config.StoreMemory {
		return store.NewInMemorySessionRepository(), store.NewInMemoryMessageRepository(), func() {}, nil
	}

	path := cfg.Store.Path
	if path == "" {
		path = filepath.Join(defaultDataDir(), sqlite.DefaultDBFile)
	}
	s, err := sqlite.Open(path, cfg.Store.SQLite)
	if err != nil {
		return nil, nil, nil, err
	}
	return s.Sessions, s.Messages, func() { _ = s.Close() }, nil
}

// resolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/copilot/copilot.yaml → ./copilot.yaml
func resolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "copilot", "copilot.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "copilot", "copilot.yaml"))
	}

	candidates = append(candidates, "copilot.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

func defaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok {
		return filepath.Join(dir, "copilot")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "copilot", "data")
}
