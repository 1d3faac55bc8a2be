package history

import (
	"database/sql"
	"time"
)

// Columns lists the relational kvlet_history columns in insert/select order.
const Columns = "event_id, occurred_at, event, id, state, method, url, status_code, error"

// Args returns e's values in Columns order. Timestamps are epoch milliseconds
// and empty optional fields are stored as NULL.
func (e Event) Args() []any {
	var code sql.NullInt64
	if e.StatusCode != 0 {
		code = sql.NullInt64{Int64: int64(e.StatusCode), Valid: true}
	}
	return []any{
		e.EventID, e.OccurredAt.UnixMilli(), string(e.Type), e.ID, e.State,
		nullString(e.Method), nullString(e.Endpoint), code, nullString(e.Error),
	}
}

// ScanEvents reads rows selected with Columns.
func ScanEvents(rows *sql.Rows) ([]Event, error) {
	out := make([]Event, 0)
	for rows.Next() {
		var (
			e                      Event
			ms                     int64
			typ                    string
			method, url, errString sql.NullString
			code                   sql.NullInt64
		)
		if err := rows.Scan(&e.EventID, &ms, &typ, &e.ID, &e.State, &method, &url, &code, &errString); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		e.OccurredAt = time.UnixMilli(ms).UTC()
		e.Method = method.String
		e.Endpoint = url.String
		e.StatusCode = uint16(code.Int64)
		e.Error = errString.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
