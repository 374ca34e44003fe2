package repo

import (
	"context"
	"database/sql"
	"strings"

	"khidma/internal/domain"
)

func (r Repo) InsertViolation(ctx context.Context, v domain.Violation) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO violations(id,user_id,kind,location,amount,status,issued_at) VALUES (?,?,?,?,?,?,?)`,
		v.ID, v.UserID, v.Kind, nullable(v.Location), v.Amount, v.Status, v.IssuedAt)
	return err
}

func (r Repo) GetViolation(ctx context.Context, id string) (domain.Violation, error) {
	var v domain.Violation
	var location sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,user_id,kind,location,amount,status,issued_at FROM violations WHERE id=?`, id).
		Scan(&v.ID, &v.UserID, &v.Kind, &location, &v.Amount, &v.Status, &v.IssuedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	if location.Valid {
		v.Location = location.String
	}
	return v, err
}

// ListViolations returns a user's violations, optionally filtered by status.
func (r Repo) ListViolations(ctx context.Context, userID, status string) ([]domain.Violation, error) {
	clauses := []string{"user_id=?"}
	args := []any{userID}
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,user_id,kind,location,amount,status,issued_at FROM violations `+buildWhere(clauses)+` ORDER BY issued_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Violation
	for rows.Next() {
		var v domain.Violation
		var location sql.NullString
		if err := rows.Scan(&v.ID, &v.UserID, &v.Kind, &location, &v.Amount, &v.Status, &v.IssuedAt); err != nil {
			return nil, err
		}
		if location.Valid {
			v.Location = location.String
		}
		res = append(res, v)
	}
	return res, nil
}

func (r Repo) MarkViolationPaid(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE violations SET status='paid' WHERE id=? AND status='outstanding'`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertVehicle(ctx context.Context, v domain.Vehicle) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO vehicles(id,user_id,plate,model,registry_until) VALUES (?,?,?,?,?)`,
		v.ID, v.UserID, v.Plate, v.Model, v.RegistryUntil)
	return err
}

func (r Repo) ListVehicles(ctx context.Context, userID string) ([]domain.Vehicle, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,user_id,plate,model,registry_until FROM vehicles WHERE user_id=? ORDER BY plate`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Vehicle
	for rows.Next() {
		var v domain.Vehicle
		if err := rows.Scan(&v.ID, &v.UserID, &v.Plate, &v.Model, &v.RegistryUntil); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, nil
}

func (r Repo) InsertWorker(ctx context.Context, w domain.Worker) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO workers(id,sponsor_id,name,nationality,iqama_number) VALUES (?,?,?,?,?)`,
		w.ID, w.SponsorID, w.Name, nullable(w.Nationality), w.IqamaNumber)
	return err
}

func (r Repo) ListWorkers(ctx context.Context, sponsorID string) ([]domain.Worker, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,sponsor_id,name,nationality,iqama_number FROM workers WHERE sponsor_id=? ORDER BY name`, sponsorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Worker
	for rows.Next() {
		var w domain.Worker
		var nationality sql.NullString
		if err := rows.Scan(&w.ID, &w.SponsorID, &w.Name, &nationality, &w.IqamaNumber); err != nil {
			return nil, err
		}
		if nationality.Valid {
			w.Nationality = nationality.String
		}
		res = append(res, w)
	}
	return res, nil
}

func (r Repo) InsertDocument(ctx context.Context, d domain.IdentityDocument) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO documents(id,user_id,kind,number,valid_until) VALUES (?,?,?,?,?)`,
		d.ID, d.UserID, d.Kind, d.Number, d.ValidUntil)
	return err
}

// GetDocument returns the user's document of the given kind.
func (r Repo) GetDocument(ctx context.Context, userID, kind string) (domain.IdentityDocument, error) {
	var d domain.IdentityDocument
	err := r.DB.QueryRowContext(ctx, `SELECT id,user_id,kind,number,valid_until FROM documents WHERE user_id=? AND kind=? LIMIT 1`, userID, kind).
		Scan(&d.ID, &d.UserID, &d.Kind, &d.Number, &d.ValidUntil)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) UpdateDocumentValidity(ctx context.Context, id, validUntil string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE documents SET valid_until=? WHERE id=?`, validUntil, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertArticle(ctx context.Context, a domain.Article) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO articles(id,title,content,category) VALUES (?,?,?,?)`,
		a.ID, a.Title, a.Content, nullable(a.Category))
	return err
}

// SearchArticles matches by keyword containment in either direction:
// the query appears in the title, or the title appears in the query.
func (r Repo) SearchArticles(ctx context.Context, query string, limit int) ([]domain.Article, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,title,content,category FROM articles WHERE instr(lower(title), ?) > 0 OR instr(?, lower(title)) > 0 ORDER BY title LIMIT ?`,
		q, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Article
	for rows.Next() {
		var a domain.Article
		var category sql.NullString
		if err := rows.Scan(&a.ID, &a.Title, &a.Content, &category); err != nil {
			return nil, err
		}
		if category.Valid {
			a.Category = category.String
		}
		res = append(res, a)
	}
	return res, nil
}
