package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/bot-lounge/backend/internal/config"
	"github.com/zhouzirui/bot-lounge/backend/internal/logging"
	"github.com/zhouzirui/bot-lounge/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/bot-lounge/backend/internal/service/chat"
)

func newChatCommand() *cobra.Command {
	var (
		personaName string
		verbose     bool
		plain       bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			// 终端模式下默认只输出错误日志，避免干扰对话
			level := "error"
			if verbose {
				level = cfg.Log.Level
			}
			logger, err := logging.New(level, cfg.Log.Development)
			if err != nil {
				return &config.ConfigurationError{Key: "LOG_LEVEL", Reason: err.Error()}
			}
			defer func() { _ = logger.Sync() }()

			registry, err := openRegistry(cfg.Catalog.Path, cfg.Chat.DefaultPersona)
			if err != nil {
				return err
			}
			chatSvc, err := newChatService(ctx, cfg, registry, logger)
			if err != nil {
				return err
			}
			defer chatSvc.CloseAll()

			session, err := chatSvc.CreateSession(ctx, personaName)
			if err != nil {
				return err
			}
			controller, err := chatSvc.Controller(session.ID)
			if err != nil {
				return err
			}

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "you> ",
				HistoryFile:     filepath.Join(os.TempDir(), ".lounge_history"),
				HistoryLimit:    100,
				InterruptPrompt: "^C",
				EOFPrompt:       "/quit",
				AutoComplete:    newCompleter(controller),
			})
			if err != nil {
				return fmt.Errorf("init readline: %w", err)
			}
			defer rl.Close()

			render := plainText
			if !plain {
				render = newMarkdownRenderer(logger)
			}
			return runREPL(ctx, controller, rl, rl.Stdout(), render)
		},
	}
	cmd.Flags().StringVarP(&personaName, "persona", "p", "", "personality to start with (default from DEFAULT_PERSONA)")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "log at LOG_LEVEL instead of errors only")
	cmd.Flags().BoolVar(&plain, "plain", false, "print replies as raw text instead of rendered markdown")
	return cmd
}

func newCompleter(controller *chatservice.Controller) readline.AutoCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("/use", readline.PcItemDynamic(func(string) []string {
			return controller.PersonalityNames()
		})),
		readline.PcItem("/personas"),
		readline.PcItem("/history"),
		readline.PcItem("/quit"),
	)
}

type lineReader interface {
	Readline() (string, error)
}

// runREPL drives one terminal conversation until the user quits or input ends.
func runREPL(ctx context.Context, controller *chatservice.Controller, in lineReader, out io.Writer, render renderFunc) error {
	fmt.Fprintf(out, "Chatting with %s. Type /personas, /use <name>, /history or /quit.\n", controller.ActivePersonality().Name)

	for {
		line, err := in.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Fprintln(out, "Goodbye!")
				return nil
			}
			return err
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			quit, err := runCommand(ctx, controller, input, out)
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
			}
			if quit {
				fmt.Fprintln(out, "Goodbye!")
				return nil
			}
			continue
		}

		pending, err := controller.Submit(line)
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			continue
		}
		reply, err := pending.Wait(ctx)
		if err != nil {
			if ctx.Err() != nil {
				fmt.Fprintln(out, "Goodbye!")
				return nil
			}
			fmt.Fprintf(out, "Error: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "\n%s> %s\n\n", controller.ActivePersonality().Name, render(reply.Content))
	}
}

func runCommand(ctx context.Context, controller *chatservice.Controller, input string, out io.Writer) (bool, error) {
	command, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch command {
	case "/quit", "/exit":
		return true, nil
	case "/personas":
		active := controller.ActivePersonality().Name
		for _, name := range controller.PersonalityNames() {
			marker := " "
			if name == active {
				marker = "*"
			}
			fmt.Fprintf(out, "%s %s\n", marker, name)
		}
	case "/use":
		if arg == "" {
			return false, errors.New("usage: /use <name>")
		}
		p, err := controller.SetActivePersonality(ctx, arg)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "Now chatting with %s.\n", p.Name)
	case "/history":
		printTranscript(out, controller.Transcript())
	default:
		return false, fmt.Errorf("unknown command %s", command)
	}
	return false, nil
}

func printTranscript(out io.Writer, turns []chat.Turn) {
	if len(turns) == 0 {
		fmt.Fprintln(out, "(no messages yet)")
		return
	}
	for _, turn := range turns {
		fmt.Fprintf(out, "[%s] %s: %s\n", turn.CreatedAt.Format("15:04:05"), turn.Role, turn.Content)
	}
}
