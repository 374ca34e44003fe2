package repo_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"khidma/internal/db"
	"khidma/internal/domain"
	"khidma/internal/migrate"
	"khidma/internal/repo"
)

func newRepo(t *testing.T) (repo.Repo, context.Context) {
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
	if err := r.EnsureUser(ctx, "user-1", "Test User", "2026-03-01T00:00:00Z"); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	return r, ctx
}

func appendMessage(t *testing.T, r repo.Repo, ctx context.Context, m domain.Message) {
	t.Helper()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := r.InsertMessage(ctx, tx, m); err != nil {
		t.Fatalf("insert message: %v", err)
	}
	if err := r.TouchConversation(ctx, tx, m.ConversationID, m.CreatedAt); err != nil {
		t.Fatalf("touch conversation: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestEnsureUserIsIdempotent(t *testing.T) {
	r, ctx := newRepo(t)
	if err := r.EnsureUser(ctx, "user-1", "Other Name", "2026-03-02T00:00:00Z"); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	u, err := r.GetUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.Name != "Test User" {
		t.Fatalf("existing row was overwritten: %q", u.Name)
	}
	if _, err := r.GetUser(ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMessageOrderingAndRoundTrip(t *testing.T) {
	r, ctx := newRepo(t)
	conv := domain.Conversation{ID: "c1", UserID: "user-1", Title: "t", CreatedAt: "2026-03-01T10:00:00Z", UpdatedAt: "2026-03-01T10:00:00Z"}
	if err := r.InsertConversation(ctx, conv); err != nil {
		t.Fatalf("insert conversation: %v", err)
	}

	appendMessage(t, r, ctx, domain.Message{ID: "m2", ConversationID: "c1", Role: "assistant", Content: "second", CreatedAt: "2026-03-01T10:01:00Z",
		ToolCalls: []domain.ToolInvocation{{Name: "check_violations", Result: domain.ToolResult{Status: domain.ResultSuccess, Message: "ok"}}}})
	appendMessage(t, r, ctx, domain.Message{ID: "m1", ConversationID: "c1", Role: "user", Content: "first", Kind: "voice", CreatedAt: "2026-03-01T10:00:30Z",
		Attachments: []domain.Attachment{{Kind: "image", URL: "file:///photo.png", Name: "photo.png"}}})

	msgs, err := r.ListMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Fatalf("creation-time order broken: %+v", msgs)
	}
	if msgs[0].Kind != "voice" || len(msgs[0].Attachments) != 1 || msgs[0].Attachments[0].Name != "photo.png" {
		t.Fatalf("attachment round trip: %+v", msgs[0])
	}
	if len(msgs[1].ToolCalls) != 1 || msgs[1].ToolCalls[0].Name != "check_violations" {
		t.Fatalf("tool-call round trip: %+v", msgs[1])
	}

	convs, err := r.ListConversations(ctx, "user-1")
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(convs) != 1 || convs[0].UpdatedAt != "2026-03-01T10:01:00Z" {
		t.Fatalf("conversation not touched by latest append: %+v", convs)
	}
}

func insertRequest(t *testing.T, r repo.Repo, ctx context.Context, id, status, category, createdAt string) {
	t.Helper()
	err := r.InsertServiceRequest(ctx, domain.ServiceRequest{
		ID:              id,
		UserID:          "user-1",
		ServiceType:     "Renew Iqama",
		ServiceCategory: category,
		Status:          status,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	})
	if err != nil {
		t.Fatalf("insert request %s: %v", id, err)
	}
}

func TestListServiceRequestsFilters(t *testing.T) {
	r, ctx := newRepo(t)
	insertRequest(t, r, ctx, "r1", domain.RequestCompleted, "identity", "2026-03-01T10:00:00Z")
	insertRequest(t, r, ctx, "r2", domain.RequestPending, "identity", "2026-03-01T11:00:00Z")
	insertRequest(t, r, ctx, "r3", domain.RequestCompleted, "traffic", "2026-03-01T12:00:00Z")

	items, err := r.ListServiceRequests(ctx, repo.RequestFilters{UserID: "user-1", Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 3 || items[0].ID != "r3" || items[2].ID != "r1" {
		t.Fatalf("newest-first order broken: %+v", items)
	}

	items, _ = r.ListServiceRequests(ctx, repo.RequestFilters{UserID: "user-1", Status: domain.RequestCompleted, Limit: 10})
	if len(items) != 2 {
		t.Fatalf("status filter: got %d", len(items))
	}
	items, _ = r.ListServiceRequests(ctx, repo.RequestFilters{UserID: "user-1", ServiceCategory: "traffic", Limit: 10})
	if len(items) != 1 || items[0].ID != "r3" {
		t.Fatalf("category filter: %+v", items)
	}

	counts, err := r.CountRequestsByStatus(ctx, "user-1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[domain.RequestCompleted] != 2 || counts[domain.RequestPending] != 1 {
		t.Fatalf("counts: %v", counts)
	}
}

func TestListServiceRequestsCursor(t *testing.T) {
	r, ctx := newRepo(t)
	// Two entries share a timestamp so the cursor has to fall back to the
	// id tie-breaker.
	for i := 1; i <= 5; i++ {
		ts := "2026-03-01T10:00:00Z"
		if i > 3 {
			ts = "2026-03-01T11:00:00Z"
		}
		insertRequest(t, r, ctx, fmt.Sprintf("r%d", i), domain.RequestCompleted, "identity", ts)
	}

	var seen []string
	f := repo.RequestFilters{UserID: "user-1", Limit: 2}
	for {
		page, err := r.ListServiceRequests(ctx, f)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(page) == 0 {
			break
		}
		for _, sr := range page {
			seen = append(seen, sr.ID)
		}
		last := page[len(page)-1]
		f.CursorCreatedAt = last.CreatedAt
		f.CursorID = last.ID
	}
	if len(seen) != 5 {
		t.Fatalf("pagination visited %d entries, want 5: %v", len(seen), seen)
	}
	unique := map[string]bool{}
	for _, id := range seen {
		if unique[id] {
			t.Fatalf("entry %s returned twice", id)
		}
		unique[id] = true
	}
}

func TestMarkViolationPaidOnlyOutstanding(t *testing.T) {
	r, ctx := newRepo(t)
	v := domain.Violation{ID: "v1", UserID: "user-1", Kind: "Speeding", Amount: 300, Status: "outstanding", IssuedAt: "2026-02-01T00:00:00Z"}
	if err := r.InsertViolation(ctx, v); err != nil {
		t.Fatalf("insert violation: %v", err)
	}
	if err := r.MarkViolationPaid(ctx, "v1"); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	// Paying twice, or paying an unknown id, affects nothing.
	if err := r.MarkViolationPaid(ctx, "v1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found on re-pay, got %v", err)
	}
	if err := r.MarkViolationPaid(ctx, "nope"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found on unknown id, got %v", err)
	}
	got, err := r.GetViolation(ctx, "v1")
	if err != nil {
		t.Fatalf("get violation: %v", err)
	}
	if got.Status != "paid" {
		t.Fatalf("status %q", got.Status)
	}
}

func TestSearchArticlesBidirectional(t *testing.T) {
	r, ctx := newRepo(t)
	if err := r.InsertArticle(ctx, domain.Article{ID: "a1", Title: "Iqama renewal", Content: "..."}); err != nil {
		t.Fatalf("insert article: %v", err)
	}

	// Query contained in the title.
	found, err := r.SearchArticles(ctx, "iqama", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("query-in-title match failed: %+v", found)
	}
	// Title contained in the query.
	found, _ = r.SearchArticles(ctx, "how does iqama renewal work for dependents", 5)
	if len(found) != 1 {
		t.Fatalf("title-in-query match failed: %+v", found)
	}
	found, _ = r.SearchArticles(ctx, "vehicle import", 5)
	if len(found) != 0 {
		t.Fatalf("unrelated query matched: %+v", found)
	}
	found, _ = r.SearchArticles(ctx, "   ", 5)
	if found != nil {
		t.Fatalf("blank query should return nothing, got %+v", found)
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	r, ctx := newRepo(t)
	secret := "khidma-test-secret"
	key := domain.APIKey{ID: "k1", UserID: "user-1", Name: "ci", KeyHash: repo.HashAPIKey(secret)}
	if err := r.InsertAPIKey(ctx, key); err != nil {
		t.Fatalf("insert key: %v", err)
	}
	got, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey("  khidma-test-secret  "))
	if err != nil {
		t.Fatalf("lookup by hash: %v", err)
	}
	if got.UserID != "user-1" || got.Name != "ci" {
		t.Fatalf("round trip: %+v", got)
	}
	if _, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey("wrong")); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for wrong key, got %v", err)
	}
	if err := r.DeleteAPIKey(ctx, "k1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(secret)); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("key survived deletion: %v", err)
	}
}
