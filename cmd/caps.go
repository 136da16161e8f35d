package cmd

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"unichat/internal/translator"
)

const capsLongDesc string = `Print the capabilities a backend reports for a model as JSON.

Examples:
  unichat caps --backend openai --model gpt-4o
  unichat caps --backend anthropic --model claude-3-5-sonnet`

type capsCommander struct {
	root    *rootOptions
	backend string
	model   string
}

func newCapsCmd(root *rootOptions) *cobra.Command {
	cmder := &capsCommander{root: root}

	cmd := &cobra.Command{
		Use:   "caps",
		Short: "Show model capabilities",
		Long:  capsLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&cmder.backend, "backend", "b", "", "Backend name")
	cmd.Flags().StringVarP(&cmder.model, "model", "m", "", "Model identifier")
	_ = cmd.MarkFlagRequired("backend")
	_ = cmd.MarkFlagRequired("model")

	return cmd
}

func (c *capsCommander) run(out io.Writer) error {
	cfg, err := c.root.loadConfig()
	if err != nil {
		return err
	}

	rt, registry, err := c.root.buildRouter(cfg)
	if err != nil {
		return err
	}
	defer registry.Close()

	caps, err := rt.Capabilities(c.backend, c.model)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(translator.FromCapabilities(c.backend, c.model, caps))
}
