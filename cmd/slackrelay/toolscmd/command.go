package toolscmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/quailyquaily/slackrelay/internal/configutil"
	"github.com/quailyquaily/slackrelay/llm"
	"github.com/quailyquaily/slackrelay/tools"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Dependencies struct {
	LoggerFromViper func() (*slog.Logger, error)
	NewToolHost     func(ctx context.Context, logger *slog.Logger) (tools.Host, func() error, error)
}

func NewCommand(d Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the tools offered to the model",
	}
	cmd.AddCommand(newListCmd(d))
	return cmd
}

type toolEntry struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	InputSchema map[string]any `yaml:"input_schema,omitempty"`
}

func newListCmd(d Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Connect to the configured tool servers and list their tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			if d.LoggerFromViper == nil || d.NewToolHost == nil {
				return fmt.Errorf("tools dependencies missing")
			}
			logger, err := d.LoggerFromViper()
			if err != nil {
				return err
			}
			if manifest := configutil.FlagOrViperString(cmd, "manifest", ""); strings.TrimSpace(manifest) != "" {
				viper.Set("tools.manifest", manifest)
			}
			host, cleanup, err := d.NewToolHost(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer func() { _ = cleanup() }()

			var specs []llm.ToolSpec
			if host != nil {
				specs, err = host.Tools(cmd.Context())
				if err != nil {
					return fmt.Errorf("list tools: %w", err)
				}
			}
			sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })

			if configutil.FlagOrViperBool(cmd, "yaml", "") {
				return writeYAML(cmd.OutOrStdout(), specs)
			}
			return writeTable(cmd.OutOrStdout(), specs)
		},
	}
	cmd.Flags().String("manifest", "", "MCP server manifest to load (overrides tools.manifest).")
	cmd.Flags().Bool("yaml", false, "Print tools with their input schemas as YAML.")
	return cmd
}

func writeYAML(w io.Writer, specs []llm.ToolSpec) error {
	entries := make([]toolEntry, 0, len(specs))
	for _, s := range specs {
		entries = append(entries, toolEntry{Name: s.Name, Description: s.Description, InputSchema: s.InputSchema})
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any{"tools": entries}); err != nil {
		return err
	}
	return enc.Close()
}

func writeTable(w io.Writer, specs []llm.ToolSpec) error {
	if len(specs) == 0 {
		_, err := fmt.Fprintln(w, "no tools configured")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tDESCRIPTION")
	for _, s := range specs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", s.Name, firstLine(s.Description))
	}
	return tw.Flush()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	const max = 80
	if r := []rune(s); len(r) > max {
		return string(r[:max-1]) + "…"
	}
	return s
}
