package agent_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"khidma/internal/agent"
	"khidma/internal/app"
	"khidma/internal/db"
	"khidma/internal/domain"
	"khidma/internal/ledger"
	"khidma/internal/migrate"
	"khidma/internal/repo"
	"khidma/internal/tools"
)

const testUser = "user-1"

// scriptedClient replays canned completions and records what each round trip
// was asked.
type scriptedClient struct {
	replies []agent.Completion
	calls   [][]agent.ChatMessage
	specs   [][]agent.ToolSpec
}

func (c *scriptedClient) Complete(ctx context.Context, messages []agent.ChatMessage, specs []agent.ToolSpec) (agent.Completion, error) {
	c.calls = append(c.calls, messages)
	c.specs = append(c.specs, specs)
	if len(c.calls) > len(c.replies) {
		return agent.Completion{}, errors.New("unexpected extra round trip")
	}
	return c.replies[len(c.calls)-1], nil
}

func newOrchestrator(t *testing.T, client agent.Client) (*agent.Orchestrator, repo.Repo, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	r := repo.Repo{DB: conn}
	if err := r.EnsureUser(ctx, testUser, "", "2026-03-01T00:00:00Z"); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if err := app.SeedDemo(ctx, r, testUser); err != nil {
		t.Fatalf("seed: %v", err)
	}
	reg := tools.New(r)
	rec := ledger.New(r)
	// A ticking clock keeps persisted message timestamps strictly ordered.
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var ticks int
	o := &agent.Orchestrator{
		Client:   client,
		Registry: reg,
		Ledger:   rec,
		Repo:     r,
		Now: func() time.Time {
			ticks++
			return base.Add(time.Duration(ticks) * time.Second)
		},
	}
	return o, r, ctx
}

func ledgerEntries(t *testing.T, r repo.Repo, ctx context.Context) []domain.ServiceRequest {
	t.Helper()
	items, err := r.ListServiceRequests(ctx, repo.RequestFilters{UserID: testUser, Limit: 50})
	if err != nil {
		t.Fatalf("list requests: %v", err)
	}
	return items
}

func TestTurnDirectAnswer(t *testing.T) {
	client := &scriptedClient{replies: []agent.Completion{{Content: "Your iqama expires in 90 days."}}}
	o, r, ctx := newOrchestrator(t, client)

	out, err := o.Turn(ctx, agent.TurnInput{UserID: testUser, Content: "When does my iqama expire?", Kind: "text"})
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if len(client.calls) != 1 {
		t.Fatalf("round trips %d, want 1", len(client.calls))
	}
	if out.AssistantMessage.Content != "Your iqama expires in 90 days." {
		t.Fatalf("assistant content %q", out.AssistantMessage.Content)
	}
	if len(out.AssistantMessage.ToolCalls) != 0 {
		t.Fatalf("unexpected tool calls: %v", out.AssistantMessage.ToolCalls)
	}
	if got := ledgerEntries(t, r, ctx); len(got) != 0 {
		t.Fatalf("direct answers must not write the ledger, got %d entries", len(got))
	}
	if out.Conversation.Title != "When does my iqama expire?" {
		t.Fatalf("conversation title %q", out.Conversation.Title)
	}

	msgs, err := r.ListMessages(ctx, out.Conversation.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Fatalf("persisted history wrong: %+v", msgs)
	}
}

func TestTurnExecutesToolsInOrder(t *testing.T) {
	client := &scriptedClient{replies: []agent.Completion{
		{ToolCalls: []agent.ToolCall{
			{ID: "call-1", Name: "check_violations", Arguments: "{}"},
			{ID: "call-2", Name: "pay_violation", Arguments: `{"violation_id":""}`},
		}},
		{Content: "You had outstanding violations; the first one is now paid."},
	}}
	o, r, ctx := newOrchestrator(t, client)

	out, err := o.Turn(ctx, agent.TurnInput{UserID: testUser, Content: "Pay my traffic fines", Kind: "text"})
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if len(client.calls) != 2 {
		t.Fatalf("round trips %d, want 2", len(client.calls))
	}
	calls := out.AssistantMessage.ToolCalls
	if len(calls) != 2 {
		t.Fatalf("invocations %d, want 2", len(calls))
	}
	if calls[0].Name != "check_violations" || calls[1].Name != "pay_violation" {
		t.Fatalf("invocation order: %s, %s", calls[0].Name, calls[1].Name)
	}

	// The second round trip carries one tool-result message per call and no
	// tool schemas, forcing a prose answer.
	second := client.calls[1]
	var toolMsgs int
	for _, m := range second {
		if m.Role == "tool" {
			toolMsgs++
			if m.ToolCallID != "call-1" && m.ToolCallID != "call-2" {
				t.Fatalf("tool message with unknown call id %q", m.ToolCallID)
			}
		}
	}
	if toolMsgs != 2 {
		t.Fatalf("tool-result messages %d, want 2", toolMsgs)
	}
	if len(client.specs[1]) != 0 {
		t.Fatal("synthesis round trip must not offer tools")
	}

	entries := ledgerEntries(t, r, ctx)
	if len(entries) != 2 {
		t.Fatalf("ledger entries %d, want 2", len(entries))
	}
	for _, e := range entries {
		if e.RequestPayload["channel"] != domain.ChannelAgent {
			t.Fatalf("entry channel %v, want agent", e.RequestPayload["channel"])
		}
		if e.ConversationID == nil || *e.ConversationID != out.Conversation.ID {
			t.Fatalf("entry not linked to conversation: %+v", e.ConversationID)
		}
	}
}

func TestKnowledgeLookupsAreNotLedgered(t *testing.T) {
	client := &scriptedClient{replies: []agent.Completion{
		{ToolCalls: []agent.ToolCall{{ID: "call-1", Name: "search_knowledge", Arguments: `{"query":"iqama renewal"}`}}},
		{Content: "Iqama renewal requires valid insurance and paid fees."},
	}}
	o, r, ctx := newOrchestrator(t, client)

	out, err := o.Turn(ctx, agent.TurnInput{UserID: testUser, Content: "How do I renew my iqama?", Kind: "text"})
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if len(out.AssistantMessage.ToolCalls) != 1 {
		t.Fatalf("invocations %d, want 1", len(out.AssistantMessage.ToolCalls))
	}
	if got := ledgerEntries(t, r, ctx); len(got) != 0 {
		t.Fatalf("knowledge lookups must not write the ledger, got %d entries", len(got))
	}
}

func TestUnparseableArgumentsDegradeToDefaults(t *testing.T) {
	client := &scriptedClient{replies: []agent.Completion{
		{ToolCalls: []agent.ToolCall{{ID: "call-1", Name: "check_violations", Arguments: "{not json"}}},
		{Content: "Here is your violation summary."},
	}}
	o, _, ctx := newOrchestrator(t, client)

	out, err := o.Turn(ctx, agent.TurnInput{UserID: testUser, Content: "Check my fines", Kind: "text"})
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	inv := out.AssistantMessage.ToolCalls[0]
	if len(inv.Args) != 0 {
		t.Fatalf("args should degrade to empty, got %v", inv.Args)
	}
	if inv.Result.Status != domain.ResultSuccess {
		t.Fatalf("tool still runs with defaults, got status %q", inv.Result.Status)
	}
}

func TestTurnContinuesExistingConversation(t *testing.T) {
	client := &scriptedClient{replies: []agent.Completion{
		{Content: "first"},
		{Content: "second"},
	}}
	o, r, ctx := newOrchestrator(t, client)

	first, err := o.Turn(ctx, agent.TurnInput{UserID: testUser, Content: "hello", Kind: "text"})
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	second, err := o.Turn(ctx, agent.TurnInput{
		UserID:         testUser,
		ConversationID: first.Conversation.ID,
		Content:        "and another thing",
		Kind:           "text",
	})
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if second.Conversation.ID != first.Conversation.ID {
		t.Fatal("second turn opened a new conversation")
	}
	msgs, err := r.ListMessages(ctx, first.Conversation.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("history length %d, want 4", len(msgs))
	}
}

func TestTurnRejectsForeignConversation(t *testing.T) {
	client := &scriptedClient{replies: []agent.Completion{{Content: "ok"}}}
	o, r, ctx := newOrchestrator(t, client)
	if err := r.EnsureUser(ctx, "user-2", "", "2026-03-01T00:00:00Z"); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	conv := domain.Conversation{
		ID:        "conv-other",
		UserID:    "user-2",
		Title:     "private",
		CreatedAt: "2026-03-01T00:00:00Z",
		UpdatedAt: "2026-03-01T00:00:00Z",
	}
	if err := r.InsertConversation(ctx, conv); err != nil {
		t.Fatalf("insert conversation: %v", err)
	}
	_, err := o.Turn(ctx, agent.TurnInput{UserID: testUser, ConversationID: "conv-other", Content: "hi"})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not-found for foreign conversation, got %v", err)
	}
}

func TestTurnRequiresContent(t *testing.T) {
	o, _, ctx := newOrchestrator(t, &scriptedClient{})
	if _, err := o.Turn(ctx, agent.TurnInput{UserID: testUser}); err == nil {
		t.Fatal("expected error for empty message")
	}
}
