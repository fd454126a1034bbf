package store

import (
	"database/sql"

	"github.com/telehole/telehole/internal/models"
)

// sessionUpdateColumns flattens a SessionUpdate into column names and values,
// in a stable order. updated_at is appended by the caller.
func sessionUpdateColumns(upd SessionUpdate) ([]string, []interface{}) {
	var cols []string
	var args []interface{}
	if upd.State != nil {
		cols = append(cols, "state")
		args = append(args, string(*upd.State))
	}
	if upd.ReplyThreadID != nil {
		cols = append(cols, "reply_thread_id")
		args = append(args, *upd.ReplyThreadID)
	}
	if upd.ReplyAnchorID != nil {
		cols = append(cols, "reply_anchor_id")
		args = append(args, *upd.ReplyAnchorID)
	}
	if upd.Authorized != nil {
		cols = append(cols, "authorized")
		args = append(args, *upd.Authorized)
	}
	return cols, args
}

// scanUserSession scans a session row. sql.ErrNoRows maps to (nil, nil).
func scanUserSession(row *sql.Row) (*models.UserSession, error) {
	var sess models.UserSession
	var state string
	err := row.Scan(&sess.UserID, &sess.ChatID, &state, &sess.ReplyThreadID,
		&sess.ReplyAnchorID, &sess.Authorized, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sess.State = models.SessionState(state)
	return &sess, nil
}

// scanThread scans a thread row without its participant list.
// sql.ErrNoRows maps to (nil, nil).
func scanThread(row *sql.Row) (*models.Thread, error) {
	var th models.Thread
	err := row.Scan(&th.PublicID, &th.InternalID, &th.CreatedAt, &th.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &th, nil
}

// loadParticipants reads a thread's participant list in ordinal order.
func loadParticipants(db *sql.DB, query string, publicID int64) ([]int64, error) {
	rows, err := db.Query(query, publicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []int64
	for rows.Next() {
		var userID int64
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		participants = append(participants, userID)
	}
	return participants, rows.Err()
}
