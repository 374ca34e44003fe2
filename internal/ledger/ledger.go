// Package ledger keeps the durable, append-mostly log of every tool
// execution attempt, shared by the direct and conversational paths.
package ledger

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"khidma/internal/domain"
	"khidma/internal/repo"
)

type Recorder struct {
	Repo   repo.Repo
	Logger *log.Logger
	Now    func() time.Time
}

func New(r repo.Repo) Recorder {
	return Recorder{Repo: r, Now: time.Now}
}

func (rec Recorder) logger() *log.Logger {
	if rec.Logger != nil {
		return rec.Logger
	}
	return log.Default()
}

func (rec Recorder) now() time.Time {
	if rec.Now != nil {
		return rec.Now()
	}
	return time.Now()
}

// Entry describes one execution attempt to be recorded.
type Entry struct {
	UserID          string
	ServiceType     string
	ServiceCategory string
	Args            map[string]any
	Result          domain.ToolResult
	Channel         string
	PaymentMethod   string
	ConversationID  string
}

// Record appends one ledger entry and returns its id. The write is
// best-effort: a failure is logged and swallowed because the user-visible
// outcome of the tool call has already been determined independently, and a
// successful service outcome must not be blocked on a secondary audit write.
func (rec Recorder) Record(ctx context.Context, e Entry) string {
	sr := build(e, rec.now().UTC())
	if err := rec.Repo.InsertServiceRequest(ctx, sr); err != nil {
		rec.logger().Printf("ledger: record %s for %s failed: %v", e.ServiceType, e.UserID, err)
	}
	return sr.ID
}

func build(e Entry, now time.Time) domain.ServiceRequest {
	ts := now.Format(time.RFC3339)
	payload := map[string]any{"channel": e.Channel}
	for k, v := range e.Args {
		payload[k] = v
	}
	if e.PaymentMethod != "" {
		payload["payment_method"] = e.PaymentMethod
	}
	result := map[string]any{
		"status":  e.Result.Status,
		"message": e.Result.Message,
	}
	if len(e.Result.Data) > 0 {
		result["data"] = e.Result.Data
	}
	if e.Result.Fee > 0 {
		result["fee"] = e.Result.Fee
	}
	sr := domain.ServiceRequest{
		ID:              uuid.New().String(),
		UserID:          e.UserID,
		ServiceType:     e.ServiceType,
		ServiceCategory: e.ServiceCategory,
		Status:          StatusFor(e.Result.Status),
		RequestPayload:  payload,
		ResultPayload:   result,
		CreatedAt:       ts,
		UpdatedAt:       ts,
	}
	if e.ConversationID != "" {
		conv := e.ConversationID
		sr.ConversationID = &conv
	}
	return sr
}

// StatusFor derives the ledger entry status from a tool result status.
func StatusFor(resultStatus string) string {
	switch resultStatus {
	case domain.ResultSuccess:
		return domain.RequestCompleted
	case domain.ResultPending:
		return domain.RequestPending
	default:
		return domain.RequestProcessing
	}
}
