package tools_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"khidma/internal/app"
	"khidma/internal/db"
	"khidma/internal/domain"
	"khidma/internal/migrate"
	"khidma/internal/repo"
	"khidma/internal/tools"
)

const testUser = "user-1"

func newRegistry(t *testing.T) (*tools.Registry, repo.Repo, context.Context) {
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
	if err := r.EnsureUser(ctx, testUser, "", time.Now().UTC().Format(time.RFC3339)); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if err := app.SeedDemo(ctx, r, testUser); err != nil {
		t.Fatalf("seed: %v", err)
	}
	reg := tools.New(r)
	reg.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return reg, r, ctx
}

func TestExecuteEmptyArgsNeverErrors(t *testing.T) {
	reg, _, ctx := newRegistry(t)
	valid := map[string]bool{
		domain.ResultSuccess: true,
		domain.ResultPending: true,
		domain.ResultError:   true,
	}
	for _, d := range reg.List() {
		res, err := reg.Execute(ctx, d.Name, map[string]any{}, testUser)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", d.Name, err)
		}
		if !valid[res.Status] {
			t.Fatalf("%s: invalid status %q", d.Name, res.Status)
		}
		if res.Message == "" {
			t.Fatalf("%s: empty message", d.Name)
		}
	}
}

func TestUnknownTool(t *testing.T) {
	reg, _, ctx := newRegistry(t)
	res, err := reg.Execute(ctx, "renew_boat_license", nil, testUser)
	if !errors.Is(err, tools.ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
	if res.Status != domain.ResultError {
		t.Fatalf("expected error status, got %q", res.Status)
	}
}

func TestLicenseFees(t *testing.T) {
	reg, _, _ := newRegistry(t)
	def, ok := reg.Get("renew_license")
	if !ok {
		t.Fatal("renew_license not registered")
	}
	if fee := def.Fee(map[string]any{"years": "5"}); fee != 200 {
		t.Fatalf("renew_license fee(5) = %v, want 200", fee)
	}
	if fee := def.Fee(map[string]any{"years": "10"}); fee != 400 {
		t.Fatalf("renew_license fee(10) = %v, want 400", fee)
	}
	// Unrecognized tiers degrade to the cheapest.
	if fee := def.Fee(map[string]any{"years": "7"}); fee != 200 {
		t.Fatalf("renew_license fee(7) = %v, want 200", fee)
	}
	if fee := def.Fee(nil); fee != 200 {
		t.Fatalf("renew_license fee() = %v, want 200", fee)
	}
}

func TestPassportFees(t *testing.T) {
	reg, _, _ := newRegistry(t)
	def, _ := reg.Get("renew_passport")
	if fee := def.Fee(map[string]any{"years": 10}); fee != 600 {
		t.Fatalf("renew_passport fee(10) = %v, want 600", fee)
	}
	if fee := def.Fee(map[string]any{"years": 5}); fee != 300 {
		t.Fatalf("renew_passport fee(5) = %v, want 300", fee)
	}
}

func TestVisaFees(t *testing.T) {
	reg, _, _ := newRegistry(t)
	def, _ := reg.Get("exit_reentry_visa")
	if fee := def.Fee(map[string]any{"type": "multiple"}); fee != 500 {
		t.Fatalf("visa fee(multiple) = %v, want 500", fee)
	}
	if fee := def.Fee(map[string]any{"type": "single"}); fee != 200 {
		t.Fatalf("visa fee(single) = %v, want 200", fee)
	}
}

func TestRenewLicenseExtendsDocument(t *testing.T) {
	reg, r, ctx := newRegistry(t)
	before, err := r.GetDocument(ctx, testUser, "driving_license")
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	res, err := reg.Execute(ctx, "renew_license", map[string]any{"years": "10"}, testUser)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != domain.ResultSuccess {
		t.Fatalf("status %q: %s", res.Status, res.Message)
	}
	if res.Fee != 400 {
		t.Fatalf("fee %v, want 400", res.Fee)
	}
	after, err := r.GetDocument(ctx, testUser, "driving_license")
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if after.ValidUntil <= before.ValidUntil {
		t.Fatalf("validity not extended: %s -> %s", before.ValidUntil, after.ValidUntil)
	}
}

func TestRenewLicenseWithoutLicenseIsPending(t *testing.T) {
	reg, r, ctx := newRegistry(t)
	doc, err := r.GetDocument(ctx, testUser, "driving_license")
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if _, err := r.DB.ExecContext(ctx, `DELETE FROM documents WHERE id=?`, doc.ID); err != nil {
		t.Fatalf("delete document: %v", err)
	}
	res, err := reg.Execute(ctx, "renew_license", map[string]any{"years": "5"}, testUser)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != domain.ResultPending {
		t.Fatalf("expected pending, got %q", res.Status)
	}
}

func TestExitReentryVisaValidity(t *testing.T) {
	reg, _, ctx := newRegistry(t)
	res, err := reg.Execute(ctx, "exit_reentry_visa", map[string]any{"type": "multiple"}, testUser)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != domain.ResultSuccess {
		t.Fatalf("status %q: %s", res.Status, res.Message)
	}
	until, _ := res.Data["valid_until"].(string)
	if until != "2026-09-01T12:00:00Z" {
		t.Fatalf("multiple visa valid_until = %s, want six months out", until)
	}
	if res.Fee != 500 {
		t.Fatalf("fee %v, want 500", res.Fee)
	}
}

func TestPayViolationDefaultsToFirstOutstanding(t *testing.T) {
	reg, r, ctx := newRegistry(t)
	outstandingBefore, err := r.ListViolations(ctx, testUser, "outstanding")
	if err != nil {
		t.Fatalf("list violations: %v", err)
	}
	if len(outstandingBefore) == 0 {
		t.Fatal("seed produced no outstanding violations")
	}
	res, err := reg.Execute(ctx, "pay_violation", map[string]any{}, testUser)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != domain.ResultSuccess {
		t.Fatalf("status %q: %s", res.Status, res.Message)
	}
	if res.Fee != outstandingBefore[0].Amount {
		t.Fatalf("fee %v, want violation amount %v", res.Fee, outstandingBefore[0].Amount)
	}
	outstandingAfter, err := r.ListViolations(ctx, testUser, "outstanding")
	if err != nil {
		t.Fatalf("list violations: %v", err)
	}
	if len(outstandingAfter) != len(outstandingBefore)-1 {
		t.Fatalf("outstanding count %d, want %d", len(outstandingAfter), len(outstandingBefore)-1)
	}
}

func TestPayViolationUnknownIDPaysNothing(t *testing.T) {
	reg, r, ctx := newRegistry(t)
	before, _ := r.ListViolations(ctx, testUser, "outstanding")
	res, err := reg.Execute(ctx, "pay_violation", map[string]any{"violation_id": "nope"}, testUser)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != domain.ResultSuccess {
		t.Fatalf("status %q", res.Status)
	}
	after, _ := r.ListViolations(ctx, testUser, "outstanding")
	if len(after) != len(before) {
		t.Fatalf("violation was paid despite unknown id")
	}
}

func TestCheckViolationsTotals(t *testing.T) {
	reg, r, ctx := newRegistry(t)
	outstanding, _ := r.ListViolations(ctx, testUser, "outstanding")
	var want float64
	for _, v := range outstanding {
		want += v.Amount
	}
	res, err := reg.Execute(ctx, "check_violations", nil, testUser)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	total, _ := res.Data["total"].(float64)
	if total != want {
		t.Fatalf("total %v, want %v", total, want)
	}
}

func TestBookAppointmentReferenceIsStable(t *testing.T) {
	reg, _, ctx := newRegistry(t)
	args := map[string]any{"office": "traffic", "date": "2026-03-10"}
	first, err := reg.Execute(ctx, "book_appointment", args, testUser)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	second, err := reg.Execute(ctx, "book_appointment", args, testUser)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if first.Data["reference"] != second.Data["reference"] {
		t.Fatalf("reference changed between identical bookings: %v vs %v", first.Data["reference"], second.Data["reference"])
	}
	other, _ := reg.Execute(ctx, "book_appointment", map[string]any{"office": "traffic", "date": "2026-03-11"}, "user-2")
	if first.Data["reference"] == other.Data["reference"] {
		t.Fatal("reference identical for different caller and date")
	}
}

func TestSearchKnowledgeMergesCatalog(t *testing.T) {
	reg, _, ctx := newRegistry(t)
	res, err := reg.Execute(ctx, "search_knowledge", map[string]any{"query": "exit re-entry visa"}, testUser)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	results, _ := res.Data["results"].([]map[string]any)
	if len(results) == 0 {
		t.Fatalf("no results: %s", res.Message)
	}
	if len(results) > 5 {
		t.Fatalf("%d results, cap is 5", len(results))
	}
}
