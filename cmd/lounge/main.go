package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/bot-lounge/backend/internal/config"
)

const appName = "lounge"

func main() {
	if err := buildRootCommand().Execute(); err != nil {
		var cfgErr *config.ConfigurationError
		if errors.As(err, &cfgErr) {
			fmt.Fprintf(os.Stderr, "%s: %v\n", appName, cfgErr)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func buildRootCommand() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:   appName,
		Short: "Chat with switchable bot personalities over HTTP, websocket or the terminal",
		Long: strings.TrimSpace(`lounge hosts conversations with a catalog of bot personalities.

Every turn is answered by a chat completion framed by the active personality's
system prompt. Switch personalities mid-conversation without losing history.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadDotEnv(envFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading configuration")

	root.AddCommand(newServeCommand())
	root.AddCommand(newChatCommand())
	root.AddCommand(newPersonasCommand())

	return root
}

// loadDotEnv 加载 .env 文件，文件不存在时仅使用系统环境变量。
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
