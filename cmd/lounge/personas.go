package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/bot-lounge/backend/internal/config"
	"github.com/zhouzirui/bot-lounge/backend/internal/model/persona"
)

func newPersonasCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "personas",
		Short: "List or add bot personalities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := openCatalogRegistry()
			if err != nil {
				return err
			}
			printPersonas(cmd.OutOrStdout(), registry)
			return nil
		},
	}

	var name, prompt string
	add := &cobra.Command{
		Use:   "add",
		Short: "Append a personality to the catalog file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.LoadCatalog()
			if err != nil {
				return err
			}
			if settings.Catalog.Path == "" {
				return &config.ConfigurationError{Key: "CATALOG_PATH", Reason: "required to add personalities"}
			}
			registry, err := openRegistry(settings.Catalog.Path, settings.Chat.DefaultPersona)
			if err != nil {
				return err
			}
			p := persona.Personality{Name: strings.TrimSpace(name), SystemPrompt: strings.TrimSpace(prompt)}
			if err := registry.Register(p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %q to %s\n", p.Name, settings.Catalog.Path)
			return nil
		},
	}
	add.Flags().StringVar(&name, "name", "", "display name of the personality")
	add.Flags().StringVar(&prompt, "prompt", "", "system prompt that frames every reply")
	_ = add.MarkFlagRequired("name")
	_ = add.MarkFlagRequired("prompt")

	cmd.AddCommand(add)
	return cmd
}

func openCatalogRegistry() (*persona.Registry, error) {
	settings, err := config.LoadCatalog()
	if err != nil {
		return nil, err
	}
	return openRegistry(settings.Catalog.Path, settings.Chat.DefaultPersona)
}

func printPersonas(w io.Writer, store persona.Store) {
	def := store.Default().Name
	for _, p := range store.List() {
		marker := " "
		if p.Name == def {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %s\n    %s\n", marker, p.Name, p.SystemPrompt)
	}
}
