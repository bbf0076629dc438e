package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/narvanalabs/forge/internal/models"
	openai "github.com/sashabaranov/go-openai"
)

const generateSystemPrompt = "You are a senior engineer generating one file of a larger application. " +
	"Reply with the complete file content only, no markdown fences and no commentary."

const fixSystemPrompt = "You are a senior engineer repairing a file that failed to compile. " +
	"Reply with the complete corrected file content only, no markdown fences and no commentary."

// OpenAIConfig holds configuration for the OpenAI-backed collaborator.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// OpenAIClient implements Generator and Fixer against the OpenAI chat
// completion API.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewOpenAIClient creates an OpenAI-backed generation collaborator.
func NewOpenAIClient(cfg *OpenAIConfig, logger *slog.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
		logger.Warn("OpenAI model not set, defaulting to gpt-4o-mini")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &OpenAIClient{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   model,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// GenerateFile implements the Generator interface.
func (c *OpenAIClient) GenerateFile(ctx context.Context, spec *models.FileSpec, plan *models.CodePlan) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	prompt := buildGeneratePrompt(spec, plan)
	content, err := c.complete(ctx, generateSystemPrompt, prompt)
	if err != nil {
		return "", fmt.Errorf("generating %s: %w", spec.Path, err)
	}
	return content, nil
}

// Fix implements the Fixer interface. It returns a nil patch when the model
// produces no usable replacement.
func (c *OpenAIClient) Fix(ctx context.Context, path, content string, errs []models.BuildError) (*models.FixPatch, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	prompt := buildFixPrompt(path, content, errs)
	fixed, err := c.complete(ctx, fixSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("requesting fix for %s: %w", path, err)
	}
	if strings.TrimSpace(fixed) == "" {
		return nil, nil
	}
	return &models.FixPatch{TargetFile: path, NewContent: fixed}, nil
}

// complete issues one chat completion call.
func (c *OpenAIClient) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return stripFences(resp.Choices[0].Message.Content), nil
}

func buildGeneratePrompt(spec *models.FileSpec, plan *models.CodePlan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate the file %q for the %s half of the application.\n", spec.Path, spec.Role)
	fmt.Fprintf(&b, "Purpose: %s\n\n", spec.Description)

	if len(spec.DependsOn) > 0 {
		b.WriteString("It may use these already-generated files:\n")
		for _, dep := range spec.DependsOn {
			b.WriteString("\n--- " + dep + " ---\n")
			if f := plan.File(dep); f != nil {
				b.WriteString(f.Content)
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")
	}

	if plan.Contract != nil && len(plan.Contract.Endpoints) > 0 {
		b.WriteString("The backend API contract:\n")
		for _, ep := range plan.Contract.Endpoints {
			fmt.Fprintf(&b, "  %s %s - %s\n", ep.Method, ep.Path, ep.Description)
		}
	}
	return b.String()
}

func buildFixPrompt(path, content string, errs []models.BuildError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The file %q failed to build with these errors:\n", path)
	for _, e := range errs {
		if e.Line > 0 {
			fmt.Fprintf(&b, "  line %d: [%s] %s\n", e.Line, e.Kind, e.Message)
		} else {
			fmt.Fprintf(&b, "  [%s] %s\n", e.Kind, e.Message)
		}
	}
	b.WriteString("\nCurrent content:\n")
	b.WriteString(content)
	return b.String()
}

// stripFences removes a surrounding markdown code fence if the model added
// one despite instructions.
func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return s
	}
	lines = lines[1:]
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
