package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/felixgeelhaar/merlin-agent/domain/puzzle"
	"github.com/felixgeelhaar/merlin-agent/infrastructure/logging"
)

// Tool names offered to the model.
const (
	ToolAsk    = "ask_merlin"
	ToolRead   = "read_merlin"
	ToolSubmit = "submit_password"
)

// DefaultSystemPrompt is the default system prompt for the oracle.
const DefaultSystemPrompt = `You are playing a word puzzle against Merlin, a wizard who guards a secret password on every level.

Each level has one secret word. Merlin answers questions but tries not to reveal the password directly.
You win a level by submitting the correct password. Wrong passwords are rejected with "Bad secret word".

## Tools

- ask_merlin(question): ask Merlin a question. His reply arrives later and is read for you automatically.
- read_merlin(): read Merlin's latest reply again.
- submit_password(password): submit a candidate password for the current level.

## Guidelines

1. Ask indirect questions: spelling, rhymes, letters, synonyms, translations.
2. Combine clues from all previous replies before guessing.
3. Submit passwords in uppercase.
4. Call exactly one tool per turn.

If you cannot call tools, respond with JSON only:
{"tool": "ask_merlin", "question": "<question>"}
{"tool": "read_merlin"}
{"tool": "submit_password", "password": "<password>"}`

// maxPromptExchanges bounds the history included in a prompt.
const maxPromptExchanges = 24

// LLMOracle uses an LLM provider to propose puzzle actions.
type LLMOracle struct {
	provider     Provider
	model        string
	temperature  float64
	maxTokens    int
	systemPrompt string
}

// LLMOracleConfig configures the LLM oracle.
type LLMOracleConfig struct {
	Provider     Provider
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// NewLLMOracle creates a new LLM-based oracle.
func NewLLMOracle(config LLMOracleConfig) *LLMOracle {
	systemPrompt := config.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}

	temperature := config.Temperature
	if temperature == 0 {
		temperature = 0.7
	}

	maxTokens := config.MaxTokens
	if maxTokens == 0 {
		maxTokens = 512
	}

	return &LLMOracle{
		provider:     config.Provider,
		model:        config.Model,
		temperature:  temperature,
		maxTokens:    maxTokens,
		systemPrompt: systemPrompt,
	}
}

// Propose implements puzzle.Oracle.
func (o *LLMOracle) Propose(ctx context.Context, req puzzle.ProposeRequest) ([]puzzle.Action, error) {
	completionReq := CompletionRequest{
		Model:       o.model,
		Messages:    o.buildMessages(req),
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
		Tools:       Tools(),
	}

	logging.Debug().
		Add(logging.RunID(req.RunID)).
		Add(logging.Level(req.Level)).
		Add(logging.Str("provider", o.provider.Name())).
		Msg("requesting oracle proposal")

	resp, err := o.provider.Complete(ctx, completionReq)
	if err != nil {
		return nil, fmt.Errorf("LLM completion failed: %w", err)
	}

	if resp.Error != nil {
		return nil, resp.Error
	}

	var actions []puzzle.Action
	if len(resp.Message.ToolCalls) > 0 {
		actions, err = parseToolCalls(resp.Message.ToolCalls)
	} else {
		actions, err = parseContent(resp.Message.Content)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse LLM response: %w", err)
	}

	logging.Debug().
		Add(logging.RunID(req.RunID)).
		Add(logging.Str("actions", fmt.Sprint(actions))).
		Msg("oracle proposal received")

	return actions, nil
}

// buildMessages constructs the prompt for the LLM.
func (o *LLMOracle) buildMessages(req puzzle.ProposeRequest) []Message {
	var sb strings.Builder

	sb.WriteString("## Current Level\n")
	sb.WriteString(fmt.Sprintf("Level: %d\n\n", req.Level))

	if req.LastReply != "" {
		sb.WriteString("## Merlin's Last Reply\n")
		sb.WriteString(truncate(req.LastReply, 1000))
		sb.WriteString("\n\n")
	}

	history := req.History
	if len(history) > maxPromptExchanges {
		history = history[len(history)-maxPromptExchanges:]
	}
	if len(history) > 0 {
		sb.WriteString("## History\n")
		for _, ex := range history {
			sb.WriteString(fmt.Sprintf("%d. [level %d] %s", ex.Index+1, ex.Level, ex.Action))
			if ex.Outcome != nil {
				sb.WriteString(" -> " + describeOutcome(*ex.Outcome))
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("What is your next action? Call exactly one tool.")

	return []Message{
		{Role: "system", Content: o.systemPrompt},
		{Role: "user", Content: sb.String()},
	}
}

func describeOutcome(o puzzle.Outcome) string {
	switch o.Kind {
	case puzzle.OutcomeReadResult:
		return fmt.Sprintf("reply: %q", truncate(o.Text, 300))
	case puzzle.OutcomeSubmitResult:
		if o.Succeeded {
			return "password accepted"
		}
		return "password rejected: " + o.Message
	default:
		if o.Reason != "" {
			return string(o.Kind) + ": " + o.Reason
		}
		return string(o.Kind)
	}
}

// Tools returns the function definitions offered to the model.
func Tools() []Tool {
	return []Tool{
		{Type: "function", Function: ToolFunction{
			Name:        ToolAsk,
			Description: "Ask Merlin a question.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"question":{"type":"string"}},"required":["question"]}`),
		}},
		{Type: "function", Function: ToolFunction{
			Name:        ToolRead,
			Description: "Read Merlin's latest reply.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
		}},
		{Type: "function", Function: ToolFunction{
			Name:        ToolSubmit,
			Description: "Submit a candidate password for the current level.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"password":{"type":"string"}},"required":["password"]}`),
		}},
	}
}

// toolArgs is the union of the tool arguments, also used for JSON replies.
type toolArgs struct {
	Tool     string `json:"tool,omitempty"`
	Question string `json:"question,omitempty"`
	Password string `json:"password,omitempty"`
}

// actionFor maps a tool name to an action. Unknown names map to an action of
// that kind, which fails validation as unsupported.
func actionFor(name string, args toolArgs) puzzle.Action {
	switch name {
	case ToolAsk:
		return puzzle.Ask(args.Question)
	case ToolRead:
		return puzzle.Read()
	case ToolSubmit:
		return puzzle.Submit(args.Password)
	default:
		return puzzle.Action{Kind: puzzle.ActionKind(name)}
	}
}

func parseToolCalls(calls []ToolCall) ([]puzzle.Action, error) {
	actions := make([]puzzle.Action, 0, len(calls))
	for _, call := range calls {
		var args toolArgs
		if strings.TrimSpace(call.Function.Arguments) != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("invalid arguments for %s: %w", call.Function.Name, err)
			}
		}
		actions = append(actions, actionFor(call.Function.Name, args))
	}
	return actions, nil
}

// parseContent parses a JSON object or array of objects from a text reply.
func parseContent(content string) ([]puzzle.Action, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```json") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimSuffix(content, "```")
		content = strings.TrimSpace(content)
	} else if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
		content = strings.TrimSpace(content)
	}

	if content == "" {
		return nil, nil
	}

	var list []toolArgs
	if strings.HasPrefix(content, "[") {
		if err := json.Unmarshal([]byte(content), &list); err != nil {
			return nil, fmt.Errorf("invalid JSON response: %w (content: %s)", err, truncate(content, 200))
		}
	} else {
		var one toolArgs
		if err := json.Unmarshal([]byte(content), &one); err != nil {
			return nil, fmt.Errorf("invalid JSON response: %w (content: %s)", err, truncate(content, 200))
		}
		list = []toolArgs{one}
	}

	actions := make([]puzzle.Action, 0, len(list))
	for _, args := range list {
		actions = append(actions, actionFor(args.Tool, args))
	}
	return actions, nil
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

var _ puzzle.Oracle = (*LLMOracle)(nil)
