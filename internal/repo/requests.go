package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"khidma/internal/domain"
)

// InsertServiceRequest appends one ledger entry. Entries are append-only;
// a retry is a new entry, not an update of the failed one.
func (r Repo) InsertServiceRequest(ctx context.Context, sr domain.ServiceRequest) error {
	reqJSON, err := marshalMapOrNil(sr.RequestPayload)
	if err != nil {
		return fmt.Errorf("marshal request payload: %w", err)
	}
	resJSON, err := marshalMapOrNil(sr.ResultPayload)
	if err != nil {
		return fmt.Errorf("marshal result payload: %w", err)
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO service_requests(id,user_id,service_type,service_category,status,request_json,result_json,conversation_id,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		sr.ID, sr.UserID, sr.ServiceType, sr.ServiceCategory, sr.Status, reqJSON, resJSON, nullableStringPtr(sr.ConversationID), sr.CreatedAt, sr.UpdatedAt)
	return err
}

func (r Repo) GetServiceRequest(ctx context.Context, id string) (domain.ServiceRequest, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,user_id,service_type,service_category,status,request_json,result_json,conversation_id,created_at,updated_at FROM service_requests WHERE id=?`, id)
	var sr domain.ServiceRequest
	var reqJSON, resJSON, convID sql.NullString
	err := row.Scan(&sr.ID, &sr.UserID, &sr.ServiceType, &sr.ServiceCategory, &sr.Status, &reqJSON, &resJSON, &convID, &sr.CreatedAt, &sr.UpdatedAt)
	if err == sql.ErrNoRows {
		return sr, ErrNotFound
	}
	if err != nil {
		return sr, err
	}
	if err := fillRequestJSON(&sr, reqJSON, resJSON, convID); err != nil {
		return sr, err
	}
	return sr, nil
}

type RequestFilters struct {
	UserID          string
	Status          string
	ServiceCategory string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListServiceRequests(ctx context.Context, f RequestFilters) ([]domain.ServiceRequest, error) {
	var clauses []string
	var args []any
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.ServiceCategory != "" {
		clauses = append(clauses, "service_category=?")
		args = append(args, f.ServiceCategory)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT id,user_id,service_type,service_category,status,request_json,result_json,conversation_id,created_at,updated_at FROM service_requests ` +
		buildWhere(clauses) + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ServiceRequest
	for rows.Next() {
		var sr domain.ServiceRequest
		var reqJSON, resJSON, convID sql.NullString
		if err := rows.Scan(&sr.ID, &sr.UserID, &sr.ServiceType, &sr.ServiceCategory, &sr.Status, &reqJSON, &resJSON, &convID, &sr.CreatedAt, &sr.UpdatedAt); err != nil {
			return nil, err
		}
		if err := fillRequestJSON(&sr, reqJSON, resJSON, convID); err != nil {
			return nil, err
		}
		res = append(res, sr)
	}
	return res, nil
}

func (r Repo) CountRequestsByStatus(ctx context.Context, userID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM service_requests WHERE user_id=? GROUP BY status`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, nil
}

func fillRequestJSON(sr *domain.ServiceRequest, reqJSON, resJSON, convID sql.NullString) error {
	if reqJSON.Valid && reqJSON.String != "" {
		if err := json.Unmarshal([]byte(reqJSON.String), &sr.RequestPayload); err != nil {
			return fmt.Errorf("unmarshal request payload: %w", err)
		}
	}
	if resJSON.Valid && resJSON.String != "" {
		if err := json.Unmarshal([]byte(resJSON.String), &sr.ResultPayload); err != nil {
			return fmt.Errorf("unmarshal result payload: %w", err)
		}
	}
	if convID.Valid {
		sr.ConversationID = &convID.String
	}
	return nil
}

func marshalMapOrNil(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
