package core

import (
	"context"
	"database/sql"
	"fmt"
)

// PgAuditRepository implements AuditStore against the data_logs table.
type PgAuditRepository struct {
	db DBTX
}

func NewPgAuditRepository(db DBTX) *PgAuditRepository {
	return &PgAuditRepository{db: db}
}

const maxIPAddressLen = 45

// Insert writes one row in a single statement.
func (r *PgAuditRepository) Insert(ctx context.Context, ev AuditEvent) error {
	const q = `INSERT INTO data_logs (user_id, action, description, ip_address, user_agent, created_at) VALUES ($1,$2,$3,$4,$5,$6)`
	ip := ev.IPAddress
	if len(ip) > maxIPAddressLen {
		ip = ip[:maxIPAddressLen]
	}
	_, err := r.db.Exec(ctx, q,
		nullableID(ev.UserID),
		string(ev.Action),
		nullableString(ev.Description),
		nullableString(ip),
		nullableString(ev.UserAgent),
		ev.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// List joins usernames at read time so deleted users surface as NULL.
func (r *PgAuditRepository) List(ctx context.Context, limit, offset int) ([]AuditEntry, error) {
	rows, err := r.db.Query(ctx, `
SELECT dl.id, dl.user_id, u.username, dl.action, dl.description, dl.ip_address, dl.user_agent, dl.created_at
FROM data_logs dl
LEFT JOIN users u ON dl.user_id = u.id
ORDER BY dl.created_at DESC, dl.id DESC
LIMIT $1 OFFSET $2
`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	items := make([]AuditEntry, 0, limit)
	for rows.Next() {
		var (
			e                         AuditEntry
			userID                    sql.NullInt64
			username, desc, ip, agent sql.NullString
			action                    string
		)
		if err := rows.Scan(&e.ID, &userID, &username, &action, &desc, &ip, &agent, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Action = AuditAction(action)
		e.UserID = ptrFromNullInt64(userID)
		e.Username = ptrFromNullString(username)
		e.Description = ptrFromNullString(desc)
		e.IPAddress = ptrFromNullString(ip)
		e.UserAgent = ptrFromNullString(agent)
		items = append(items, e)
	}
	return items, rows.Err()
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func ptrFromNullInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func ptrFromNullString(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}
