package store

import (
	"database/sql"
	"fmt"
	"math"

	"github.com/loykin/kvlet/internal/record"
)

// Columns lists the kvlet table columns in scan order.
const Columns = "id, state, info, method, url, response_code, response, create_at, update_at"

// Scanner is satisfied by *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// row mirrors one kvlet table row with nullable columns.
type row struct {
	ID           string
	State        string
	Info         sql.NullString
	Method       sql.NullString
	URL          sql.NullString
	ResponseCode sql.NullInt64
	Response     sql.NullString
	CreateAt     int64
	UpdateAt     int64
}

func scanRow(s Scanner) (row, error) {
	var r row
	err := s.Scan(&r.ID, &r.State, &r.Info, &r.Method, &r.URL, &r.ResponseCode, &r.Response, &r.CreateAt, &r.UpdateAt)
	return r, err
}

// toRecord maps a stored row to a Record. Unknown method tokens or
// out-of-range status codes mean the table does not hold what kvlet wrote.
func (r row) toRecord() (record.Record, error) {
	out := record.Record{
		ID:        r.ID,
		State:     r.State,
		CreatedAt: record.FromMillis(r.CreateAt),
		UpdatedAt: record.FromMillis(r.UpdateAt),
	}
	if r.Info.Valid {
		v := r.Info.String
		out.Info = &v
	}
	if r.Method.Valid || r.URL.Valid {
		m, err := record.ParseMethod(r.Method.String)
		if err != nil {
			return record.Record{}, fmt.Errorf("column method: %w", err)
		}
		out.Target = &record.Target{Method: m, Endpoint: r.URL.String}
	}
	if r.ResponseCode.Valid {
		if r.ResponseCode.Int64 < 0 || r.ResponseCode.Int64 > math.MaxUint16 {
			return record.Record{}, fmt.Errorf("column response_code out of range: %d", r.ResponseCode.Int64)
		}
		out.Response = &record.Response{StatusCode: uint16(r.ResponseCode.Int64), Body: r.Response.String}
	}
	return out, nil
}

// fromRecord maps a Record to the column values written on insert or update.
func fromRecord(rec record.Record) row {
	r := row{
		ID:       rec.ID,
		State:    rec.State,
		CreateAt: record.Millis(rec.CreatedAt),
		UpdateAt: record.Millis(rec.UpdatedAt),
	}
	if rec.Info != nil {
		r.Info = sql.NullString{String: *rec.Info, Valid: true}
	}
	if rec.Target != nil {
		r.Method = sql.NullString{String: rec.Target.Method.String(), Valid: true}
		r.URL = sql.NullString{String: rec.Target.Endpoint, Valid: true}
	}
	if rec.Response != nil {
		r.ResponseCode = sql.NullInt64{Int64: int64(rec.Response.StatusCode), Valid: true}
		r.Response = sql.NullString{String: rec.Response.Body, Valid: true}
	}
	return r
}
