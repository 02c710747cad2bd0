package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"gatehouse.org/internal/auth"
)

func (s *Store) AppendAudit(ctx context.Context, entry auth.AuditEntry) error {
	return appendAudit(ctx, s.db, entry)
}

func appendAudit(ctx context.Context, q querier, entry auth.AuditEntry) error {
	detailsJSON := []byte("{}")
	if len(entry.Details) > 0 {
		bytes, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		detailsJSON = bytes
	}
	_, err := q.ExecContext(ctx, `
		insert into audit_log (user_id, action, details)
		values ($1, $2, $3)
	`, entry.UserID, entry.Action, detailsJSON)
	return err
}
