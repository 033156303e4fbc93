package pg

import (
	"context"
	"encoding/json"
	"fmt"
)

// RecordSuperIDs stores generated super ids together with the requesting
// client. All ids of one request are written atomically.
func (s *Store) RecordSuperIDs(ctx context.Context, clientID string, superIDs []string, metadata map[string]any) error {
	if s.db == nil {
		return errNoDB
	}
	var rawMeta []byte
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		rawMeta = b
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapReadError(err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range superIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into generated_super_ids (super_id, requested_by_client_id, metadata)
			values ($1, $2, $3)
		`, id, clientID, rawMeta); err != nil {
			return mapWriteError(err)
		}
	}
	return mapReadError(tx.Commit())
}
