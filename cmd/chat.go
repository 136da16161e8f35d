package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"unichat/internal/models"
	"unichat/internal/provider"
	"unichat/internal/translator"
)

const chatLongDesc string = `Send one chat request to a configured backend and print the reply.

The message arguments are joined with spaces into a single user message.
Tools are declared with a JSON file holding an array of
{"name", "description", "schema"} objects.

Examples:
  unichat chat --backend openai --model gpt-4o "What is 2+2?"
  unichat chat --backend together --model meta-llama/Llama-3-8b-chat-hf --stream "Tell me a story"
  unichat chat --backend anthropic --model claude-3-5-sonnet --thinking --max-tokens 2048 "Prove it"`

type chatCommander struct {
	root *rootOptions

	backend     string
	model       string
	system      string
	toolsFile   string
	toolMode    string
	thinking    bool
	temperature float64
	maxTokens   int
	stream      bool
}

func newChatCmd(root *rootOptions) *cobra.Command {
	cmder := &chatCommander{root: root}

	cmd := &cobra.Command{
		Use:   "chat [message...]",
		Short: "Send a chat request",
		Long:  chatLongDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := cmder.request(cmd, args)
			if err != nil {
				return err
			}
			return cmder.run(cmd.Context(), cmd.OutOrStdout(), req)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&cmder.backend, "backend", "b", "", "Backend to dispatch to (openai, anthropic, together)")
	flags.StringVarP(&cmder.model, "model", "m", "", "Model identifier")
	flags.StringVarP(&cmder.system, "system", "s", "", "Optional system prompt")
	flags.StringVar(&cmder.toolsFile, "tools", "", "Path to a JSON file declaring tools")
	flags.StringVar(&cmder.toolMode, "tool-mode", "", "Tool mode: off, auto or required (default auto when --tools is set)")
	flags.BoolVar(&cmder.thinking, "thinking", false, "Request extended reasoning")
	flags.Float64Var(&cmder.temperature, "temperature", 0, "Sampling temperature")
	flags.IntVar(&cmder.maxTokens, "max-tokens", 0, "Maximum tokens to generate")
	flags.BoolVar(&cmder.stream, "stream", false, "Stream the reply as it is generated")
	_ = cmd.MarkFlagRequired("backend")
	_ = cmd.MarkFlagRequired("model")

	return cmd
}

// request assembles the unified request from flags and arguments.
func (c *chatCommander) request(cmd *cobra.Command, args []string) (models.ChatRequest, error) {
	req := models.ChatRequest{
		Backend: c.backend,
		Model:   c.model,
	}

	if c.system != "" {
		req.Messages = append(req.Messages, models.Message{Role: models.RoleSystem, Content: c.system})
	}
	req.Messages = append(req.Messages, models.Message{Role: models.RoleUser, Content: strings.Join(args, " ")})

	if c.toolsFile != "" {
		tools, err := readTools(c.toolsFile)
		if err != nil {
			return models.ChatRequest{}, err
		}
		req.Tools = tools
		req.ToolMode = models.ToolModeAuto
	}
	if c.toolMode != "" {
		if err := req.ToolMode.UnmarshalText([]byte(c.toolMode)); err != nil {
			return models.ChatRequest{}, err
		}
	}

	if c.thinking {
		req.Thinking = models.ThinkingOn
	}
	if cmd.Flags().Changed("temperature") {
		temperature := c.temperature
		req.Temperature = &temperature
	}
	if cmd.Flags().Changed("max-tokens") {
		maxTokens := c.maxTokens
		req.MaxTokens = &maxTokens
	}

	return req, nil
}

func (c *chatCommander) run(ctx context.Context, out io.Writer, req models.ChatRequest) error {
	cfg, err := c.root.loadConfig()
	if err != nil {
		return err
	}

	rt, registry, err := c.root.buildRouter(cfg)
	if err != nil {
		return err
	}
	defer registry.Close()

	if !c.stream {
		resp, err := rt.Chat(ctx, req)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, resp.Text)
		return err
	}

	stream, err := rt.Stream(ctx, req)
	if err != nil {
		return err
	}
	defer stream.Close()

	for event, err := range provider.Events(stream) {
		if err != nil {
			fmt.Fprintln(out)
			return err
		}
		if event.Type == models.EventDone {
			break
		}
		if _, err := io.WriteString(out, event.Text); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintln(out)
	return err
}

func readTools(path string) ([]models.ToolDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tools file: %w", err)
	}

	var wire []translator.Tool
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode tools file %q: %w", path, err)
	}

	tools := make([]models.ToolDef, 0, len(wire))
	for _, t := range wire {
		tools = append(tools, models.ToolDef{Name: t.Name, Description: t.Description, Schema: t.Schema})
	}
	return tools, nil
}
