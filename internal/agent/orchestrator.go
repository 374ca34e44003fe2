package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"khidma/internal/domain"
	"khidma/internal/ledger"
	"khidma/internal/repo"
	"khidma/internal/tools"
)

// knowledgeTool is informational only and is not recorded as a user-facing
// service request.
const knowledgeTool = "search_knowledge"

// Orchestrator turns a conversation's message history into either a direct
// answer or a sequence of tool calls followed by a grounded answer.
type Orchestrator struct {
	Client   Client
	Registry *tools.Registry
	Ledger   ledger.Recorder
	Repo     repo.Repo
	Logger   *log.Logger
	Now      func() time.Time
}

type TurnInput struct {
	UserID         string
	ConversationID string
	Content        string
	Kind           string
	Attachments    []domain.Attachment
}

type TurnOutput struct {
	Conversation     domain.Conversation
	UserMessage      domain.Message
	AssistantMessage domain.Message
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) logger() *log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.Default()
}

// Turn handles one incoming user message: persist it, run up to two model
// round trips (the second only after all requested tools have executed), and
// persist the assistant reply with its tool-invocation summaries.
func (o *Orchestrator) Turn(ctx context.Context, in TurnInput) (TurnOutput, error) {
	if in.Content == "" && len(in.Attachments) == 0 {
		return TurnOutput{}, errors.New("message content required")
	}
	conv, err := o.resolveConversation(ctx, in)
	if err != nil {
		return TurnOutput{}, err
	}
	userMsg, err := o.appendMessage(ctx, conv.ID, domain.Message{
		Role:        "user",
		Content:     in.Content,
		Kind:        in.Kind,
		Attachments: in.Attachments,
	})
	if err != nil {
		return TurnOutput{}, err
	}

	history, err := o.Repo.ListMessages(ctx, conv.ID)
	if err != nil {
		return TurnOutput{}, err
	}
	chat := []ChatMessage{{Role: "system", Content: systemPrompt(o.Registry)}}
	for _, m := range history {
		chat = append(chat, ChatMessage{Role: m.Role, Content: m.Content})
	}

	first, err := o.Client.Complete(ctx, chat, o.toolSpecs())
	if err != nil {
		return TurnOutput{}, err
	}

	var content string
	var invocations []domain.ToolInvocation
	if len(first.ToolCalls) == 0 {
		content = first.Content
	} else {
		invocations = o.executeTools(ctx, in.UserID, conv.ID, first.ToolCalls)
		content, err = o.synthesize(ctx, chat, first, invocations)
		if err != nil {
			return TurnOutput{}, err
		}
	}

	assistantMsg, err := o.appendMessage(ctx, conv.ID, domain.Message{
		Role:      "assistant",
		Content:   content,
		ToolCalls: invocations,
	})
	if err != nil {
		return TurnOutput{}, err
	}
	return TurnOutput{Conversation: conv, UserMessage: userMsg, AssistantMessage: assistantMsg}, nil
}

// executeTools runs the requested calls sequentially in request order; later
// calls may depend on records changed by earlier ones. An argument payload
// that fails to parse degrades to an empty argument map rather than aborting
// the turn. Each executed call (except search_knowledge) produces one ledger
// entry on the agent channel.
func (o *Orchestrator) executeTools(ctx context.Context, userID, conversationID string, calls []ToolCall) []domain.ToolInvocation {
	invocations := make([]domain.ToolInvocation, 0, len(calls))
	for _, call := range calls {
		args := map[string]any{}
		if call.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
				o.logger().Printf("agent: tool %s arguments unparseable, executing with defaults: %v", call.Name, err)
				args = map[string]any{}
			}
		}
		result, err := o.Registry.Execute(ctx, call.Name, args, userID)
		if err != nil && !errors.Is(err, tools.ErrUnknownTool) {
			o.logger().Printf("agent: tool %s execution failed: %v", call.Name, err)
			result = domain.ToolResult{
				Status:  domain.ResultError,
				Message: fmt.Sprintf("The %s service is temporarily unavailable.", call.Name),
			}
		}
		invocations = append(invocations, domain.ToolInvocation{Name: call.Name, Args: args, Result: result})

		if call.Name == knowledgeTool {
			continue
		}
		if def, ok := o.Registry.Get(call.Name); ok {
			o.Ledger.Record(ctx, ledger.Entry{
				UserID:          userID,
				ServiceType:     def.DisplayName,
				ServiceCategory: def.Category,
				Args:            args,
				Result:          result,
				Channel:         domain.ChannelAgent,
				ConversationID:  conversationID,
			})
		}
	}
	return invocations
}

// synthesize runs the second round trip: original history plus the
// assistant's tool-call message plus one synthetic tool-result message per
// executed call, with no tool schema so the model must answer in prose.
func (o *Orchestrator) synthesize(ctx context.Context, chat []ChatMessage, first Completion, invocations []domain.ToolInvocation) (string, error) {
	chat = append(chat, ChatMessage{Role: "assistant", Content: first.Content, ToolCalls: first.ToolCalls})
	for i, call := range first.ToolCalls {
		payload, err := json.Marshal(invocations[i].Result)
		if err != nil {
			return "", fmt.Errorf("marshal tool result: %w", err)
		}
		chat = append(chat, ChatMessage{Role: "tool", Content: string(payload), ToolCallID: call.ID})
	}
	second, err := o.Client.Complete(ctx, chat, nil)
	if err != nil {
		return "", err
	}
	return second.Content, nil
}

func (o *Orchestrator) toolSpecs() []ToolSpec {
	defs := o.Registry.List()
	specs := make([]ToolSpec, 0, len(defs))
	for _, d := range defs {
		specs = append(specs, ToolSpec{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Schema(),
		})
	}
	return specs
}

// resolveConversation loads the addressed conversation or lazily creates one,
// titling it from the first user message.
func (o *Orchestrator) resolveConversation(ctx context.Context, in TurnInput) (domain.Conversation, error) {
	if in.ConversationID != "" {
		conv, err := o.Repo.GetConversation(ctx, in.ConversationID)
		if err != nil {
			return conv, err
		}
		if conv.UserID != in.UserID {
			return conv, repo.ErrNotFound
		}
		return conv, nil
	}
	now := o.now().UTC().Format(time.RFC3339)
	conv := domain.Conversation{
		ID:        uuid.New().String(),
		UserID:    in.UserID,
		Title:     titleFrom(in.Content),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.Repo.InsertConversation(ctx, conv); err != nil {
		return conv, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

func (o *Orchestrator) appendMessage(ctx context.Context, conversationID string, m domain.Message) (domain.Message, error) {
	now := o.now().UTC().Format(time.RFC3339)
	m.ID = uuid.New().String()
	m.ConversationID = conversationID
	m.CreatedAt = now
	tx, err := o.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return m, err
	}
	defer tx.Rollback()
	if err := o.Repo.InsertMessage(ctx, tx, m); err != nil {
		return m, fmt.Errorf("append message: %w", err)
	}
	if err := o.Repo.TouchConversation(ctx, tx, conversationID, now); err != nil {
		return m, err
	}
	if err := tx.Commit(); err != nil {
		return m, err
	}
	return m, nil
}

const maxTitleLen = 60

func titleFrom(content string) string {
	if content == "" {
		return "New conversation"
	}
	runes := []rune(content)
	if len(runes) > maxTitleLen {
		return string(runes[:maxTitleLen])
	}
	return content
}
