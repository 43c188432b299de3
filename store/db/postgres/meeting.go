package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hrygo/meetingagent/store"
)

func (d *DB) CreateMeeting(ctx context.Context, create *store.Meeting) (*store.Meeting, error) {
	participants, err := marshalParticipants(create.Participants)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal participants: %w", err)
	}

	fields := []string{
		"uid", "creator_id", "title", "description", "location", "participants",
		"start_ts", "end_ts", "recurrence_rule", "recurrence_end_ts", "source_text",
	}
	placeholderValues := []any{
		create.UID, create.CreatorID, create.Title, create.Description, create.Location, participants,
		create.StartTs, create.EndTs, create.RecurrenceRule, create.RecurrenceEndTs, create.SourceText,
	}

	if create.CreatedTs != 0 {
		fields = append(fields, "created_ts")
		placeholderValues = append(placeholderValues, create.CreatedTs)
	}
	if create.UpdatedTs != 0 {
		fields = append(fields, "updated_ts")
		placeholderValues = append(placeholderValues, create.UpdatedTs)
	}

	values := strings.Split(placeholders(len(placeholderValues)), ", ")
	values[5] += "::jsonb"
	stmt := `INSERT INTO meeting (` + strings.Join(fields, ", ") + `)
		VALUES (` + strings.Join(values, ", ") + `)
		RETURNING id, created_ts, updated_ts, row_status`

	if err := d.db.QueryRowContext(ctx, stmt, placeholderValues...).Scan(
		&create.ID,
		&create.CreatedTs,
		&create.UpdatedTs,
		&create.RowStatus,
	); err != nil {
		return nil, fmt.Errorf("failed to create meeting: %w", err)
	}

	return create, nil
}

func (d *DB) ListMeetings(ctx context.Context, find *store.FindMeeting) ([]*store.Meeting, error) {
	where, args := []string{"1 = 1"}, []any{}

	if v := find.ID; v != nil {
		where, args = append(where, "meeting.id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.UID; v != nil {
		where, args = append(where, "meeting.uid = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.CreatorID; v != nil {
		where, args = append(where, "meeting.creator_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.RowStatus; v != nil {
		where, args = append(where, "meeting.row_status = "+placeholder(len(args)+1)), append(args, *v)
	}

	// Half-open intersection with the window: start < windowEnd AND end > windowStart.
	var window []string
	if v := find.EndTs; v != nil {
		window, args = append(window, "meeting.start_ts < "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.StartTs; v != nil {
		window, args = append(window, "meeting.end_ts > "+placeholder(len(args)+1)), append(args, *v)
	}
	if len(window) > 0 {
		clause := "(" + strings.Join(window, " AND ") + ")"
		if find.IncludeRecurring {
			recurring := "(meeting.recurrence_rule IS NOT NULL AND meeting.recurrence_rule != ''"
			if v := find.EndTs; v != nil {
				recurring, args = recurring+" AND meeting.start_ts < "+placeholder(len(args)+1), append(args, *v)
			}
			if v := find.StartTs; v != nil {
				recurring, args = recurring+" AND (meeting.recurrence_end_ts IS NULL OR meeting.recurrence_end_ts > "+placeholder(len(args)+1)+")", append(args, *v)
			}
			clause = "(" + clause + " OR " + recurring + "))"
		}
		where = append(where, clause)
	}

	query := `SELECT
			meeting.id,
			meeting.uid,
			meeting.creator_id,
			meeting.created_ts,
			meeting.updated_ts,
			meeting.row_status,
			meeting.title,
			meeting.description,
			meeting.location,
			meeting.participants,
			meeting.start_ts,
			meeting.end_ts,
			meeting.recurrence_rule,
			meeting.recurrence_end_ts,
			meeting.source_text
		FROM meeting
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY meeting.start_ts ASC, meeting.id ASC`

	if v := find.Limit; v != nil {
		query += fmt.Sprintf(" LIMIT %d", *v)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list meetings: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Meeting, 0)
	for rows.Next() {
		var meeting store.Meeting
		var participants []byte
		var recurrenceRule sql.NullString
		var recurrenceEndTs sql.NullInt64

		if err := rows.Scan(
			&meeting.ID,
			&meeting.UID,
			&meeting.CreatorID,
			&meeting.CreatedTs,
			&meeting.UpdatedTs,
			&meeting.RowStatus,
			&meeting.Title,
			&meeting.Description,
			&meeting.Location,
			&participants,
			&meeting.StartTs,
			&meeting.EndTs,
			&recurrenceRule,
			&recurrenceEndTs,
			&meeting.SourceText,
		); err != nil {
			return nil, fmt.Errorf("failed to scan meeting: %w", err)
		}

		if meeting.Participants, err = unmarshalParticipants(participants); err != nil {
			return nil, fmt.Errorf("failed to unmarshal participants of meeting %d: %w", meeting.ID, err)
		}
		if recurrenceRule.Valid {
			meeting.RecurrenceRule = &recurrenceRule.String
		}
		if recurrenceEndTs.Valid {
			meeting.RecurrenceEndTs = &recurrenceEndTs.Int64
		}

		list = append(list, &meeting)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate meetings: %w", err)
	}

	return list, nil
}

func (d *DB) UpdateMeeting(ctx context.Context, update *store.UpdateMeeting) error {
	set, args := []string{}, []any{}

	if v := update.UpdatedTs; v != nil {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.RowStatus; v != nil {
		set, args = append(set, "row_status = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Title; v != nil {
		set, args = append(set, "title = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Description; v != nil {
		set, args = append(set, "description = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Location; v != nil {
		set, args = append(set, "location = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Participants; v != nil {
		participants, err := marshalParticipants(*v)
		if err != nil {
			return fmt.Errorf("failed to marshal participants: %w", err)
		}
		set, args = append(set, "participants = "+placeholder(len(args)+1)+"::jsonb"), append(args, participants)
	}
	if v := update.StartTs; v != nil {
		set, args = append(set, "start_ts = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.EndTs; v != nil {
		set, args = append(set, "end_ts = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.RecurrenceRule; v != nil {
		set, args = append(set, "recurrence_rule = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.RecurrenceEndTs; v != nil {
		set, args = append(set, "recurrence_end_ts = "+placeholder(len(args)+1)), append(args, *v)
	}

	if len(set) == 0 {
		return nil
	}

	args = append(args, update.ID)
	stmt := `UPDATE meeting SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args))
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("failed to update meeting: %w", err)
	}
	return nil
}

func (d *DB) DeleteMeeting(ctx context.Context, delete *store.DeleteMeeting) error {
	stmt := `DELETE FROM meeting WHERE id = ` + placeholder(1)
	if _, err := d.db.ExecContext(ctx, stmt, delete.ID); err != nil {
		return fmt.Errorf("failed to delete meeting: %w", err)
	}
	return nil
}
