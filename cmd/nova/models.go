package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/xaenox/nova/internal/completion"
)

// modelCatalog is implemented by completers that can enumerate and probe models.
type modelCatalog interface {
	ListModels(ctx context.Context) ([]string, error)
	Probe(ctx context.Context, model string) (string, completion.Category, error)
}

func newModelsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Inspect the models offered by the completion provider",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available models",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := opts.catalog()
			if err != nil {
				return err
			}
			models, err := catalog.ListModels(cmd.Context())
			if err != nil {
				return fmt.Errorf("list models: %w", err)
			}
			for _, m := range models {
				fmt.Fprintln(cmd.OutOrStdout(), m)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "probe [model...]",
		Short: "Send a ping completion to each model, or to every listed model",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := opts.catalog()
			if err != nil {
				return err
			}
			models := args
			if len(models) == 0 {
				if models, err = catalog.ListModels(cmd.Context()); err != nil {
					return fmt.Errorf("list models: %w", err)
				}
			}
			probeModels(cmd.Context(), catalog, models, cmd.OutOrStdout())
			return nil
		},
	})
	return cmd
}

func (o *rootOptions) catalog() (modelCatalog, error) {
	cfg, logger, err := o.load()
	if err != nil {
		return nil, err
	}
	completer, err := completion.New(completionConfig(cfg.Completion), logger)
	if err != nil {
		return nil, err
	}
	catalog, ok := completer.(modelCatalog)
	if !ok {
		return nil, fmt.Errorf("provider %q does not support model listing", cfg.Completion.Provider)
	}
	return catalog, nil
}

func probeModels(ctx context.Context, catalog modelCatalog, models []string, out io.Writer) {
	for _, model := range models {
		probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		text, category, err := catalog.Probe(probeCtx, model)
		cancel()
		if err != nil {
			fmt.Fprintf(out, "FAIL %s [%s] %v\n", model, category, err)
			continue
		}
		fmt.Fprintf(out, "OK   %s %s\n", model, strings.TrimSpace(firstLine(text)))
	}
}

func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return text[:i]
	}
	return text
}
