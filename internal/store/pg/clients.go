package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"paservices.dev/internal/auth"
)

const clientColumns = `id, client_name, client_secret_hash, is_active, description, allowed_callback_urls, created_at, updated_at`

func (s *Store) CreateClient(ctx context.Context, c auth.Client) (auth.Client, error) {
	if s.db == nil {
		return auth.Client{}, errNoDB
	}
	callbacks := c.CallbackURLs
	if callbacks == nil {
		callbacks = []string{}
	}
	rawCallbacks, err := json.Marshal(callbacks)
	if err != nil {
		return auth.Client{}, fmt.Errorf("marshal callback urls: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
		insert into clients (id, client_name, client_secret_hash, is_active, description, allowed_callback_urls)
		values ($1, $2, $3, $4, $5, $6)
		returning `+clientColumns,
		c.ID, c.Name, c.SecretHash, c.Active, nullIfEmpty(c.Description), rawCallbacks)
	created, err := scanClient(row)
	if err != nil {
		return auth.Client{}, mapWriteError(err)
	}
	return created, nil
}

func (s *Store) GetClient(ctx context.Context, clientID string) (auth.Client, error) {
	if s.db == nil {
		return auth.Client{}, errNoDB
	}
	c, err := scanClient(s.db.QueryRowContext(ctx, `select `+clientColumns+` from clients where id = $1`, clientID))
	return c, mapReadError(err)
}

func (s *Store) ListClients(ctx context.Context) ([]auth.Client, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+clientColumns+` from clients order by client_name`)
	if err != nil {
		return nil, mapReadError(err)
	}
	defer rows.Close()

	result := []auth.Client{}
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, mapReadError(err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapReadError(err)
	}
	return result, nil
}

func (s *Store) SetClientActive(ctx context.Context, clientID string, active bool) (auth.Client, error) {
	if s.db == nil {
		return auth.Client{}, errNoDB
	}
	c, err := scanClient(s.db.QueryRowContext(ctx, `
		update clients set is_active = $2, updated_at = now()
		where id = $1
		returning `+clientColumns, clientID, active))
	return c, mapReadError(err)
}

func (s *Store) UpdateClientSecret(ctx context.Context, clientID, secretHash string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update clients set client_secret_hash = $2, updated_at = now()
		where id = $1
	`, clientID, secretHash)
	if err != nil {
		return mapReadError(err)
	}
	return requireAffected(res)
}

func scanClient(row rowScanner) (auth.Client, error) {
	var (
		c            auth.Client
		desc         sql.NullString
		rawCallbacks []byte
	)
	if err := row.Scan(&c.ID, &c.Name, &c.SecretHash, &c.Active, &desc, &rawCallbacks, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return auth.Client{}, err
	}
	c.Description = desc.String
	if len(rawCallbacks) > 0 {
		if err := json.Unmarshal(rawCallbacks, &c.CallbackURLs); err != nil {
			return auth.Client{}, fmt.Errorf("decode callback urls: %w", err)
		}
	}
	return c, nil
}
