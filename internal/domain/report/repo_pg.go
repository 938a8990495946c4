package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type remoteRepoPG struct {
	pool *pgxpool.Pool
}

// NewRemoteRepoPG returns a RemoteStore over the reports relation. The store
// generates record ids; callers must not assume any relationship between a
// remote id and the local id of the same logical report.
func NewRemoteRepoPG(pool *pgxpool.Pool) RemoteStore {
	return &remoteRepoPG{pool: pool}
}

const reportCols = `id, patient_name, modality, urgency, report_data, created_at`

func (r *remoteRepoPG) scan(row pgx.Row) (*Record, error) {
	var rec Record
	var data []byte
	err := row.Scan(&rec.ID, &rec.PatientName, &rec.Modality, &rec.Urgency, &data, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(data, &rec.ReportData); err != nil {
		return nil, fmt.Errorf("decode report_data for %s: %w", rec.ID, err)
	}
	return &rec, nil
}

func (r *remoteRepoPG) Insert(ctx context.Context, rec *Record) (*Record, error) {
	data, err := json.Marshal(rec.ReportData)
	if err != nil {
		return nil, fmt.Errorf("encode report_data: %w", err)
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO reports (patient_name, modality, urgency, report_data)
		VALUES ($1, $2, $3, $4)
		RETURNING `+reportCols,
		rec.PatientName, rec.Modality, rec.Urgency, data)
	return r.scan(row)
}

func (r *remoteRepoPG) SelectAll(ctx context.Context) ([]*Record, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+reportCols+` FROM reports ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *remoteRepoPG) SelectOne(ctx context.Context, id string) (*Record, error) {
	return r.scan(r.pool.QueryRow(ctx, `SELECT `+reportCols+` FROM reports WHERE id = $1`, id))
}

func (r *remoteRepoPG) UpdateData(ctx context.Context, id string, doc Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode report_data: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE reports SET report_data = $2, urgency = $3 WHERE id = $1`,
		id, data, doc.Urgency)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *remoteRepoPG) DeleteAll(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM reports`)
	return err
}
