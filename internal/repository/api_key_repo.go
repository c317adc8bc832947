package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skillincome/backend/internal/models"
)

type APIKeyRepo struct {
	pool *pgxpool.Pool
}

func NewAPIKeyRepo(pool *pgxpool.Pool) *APIKeyRepo {
	return &APIKeyRepo{pool: pool}
}

// APIKeyWithAccount is the join result used by API key auth.
type APIKeyWithAccount struct {
	APIKey  models.APIKey
	Account models.Account
}

func (r *APIKeyRepo) Create(ctx context.Context, k *models.APIKey) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO api_keys (id, account_id, key_hash, label)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, k.ID, k.AccountID, k.KeyHash, k.Label).Scan(&k.CreatedAt)
}

// FindByKeyHash resolves a hashed bearer token to its key and account.
func (r *APIKeyRepo) FindByKeyHash(ctx context.Context, keyHash string) (*APIKeyWithAccount, error) {
	var out APIKeyWithAccount
	err := r.pool.QueryRow(ctx, `
		SELECT k.id, k.account_id, k.key_hash, k.label, k.created_at,
			a.id, a.email, a.name, a.role, a.password_hash, a.is_system_account, a.created_at, a.updated_at
		FROM api_keys k
		JOIN accounts a ON a.id = k.account_id
		WHERE k.key_hash = $1
	`, keyHash).Scan(
		&out.APIKey.ID, &out.APIKey.AccountID, &out.APIKey.KeyHash, &out.APIKey.Label, &out.APIKey.CreatedAt,
		&out.Account.ID, &out.Account.Email, &out.Account.Name, &out.Account.Role,
		&out.Account.PasswordHash, &out.Account.IsSystemAccount, &out.Account.CreatedAt, &out.Account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *APIKeyRepo) ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, key_hash, label, created_at
		FROM api_keys WHERE account_id = $1 ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.AccountID, &k.KeyHash, &k.Label, &k.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &k)
	}
	return list, rows.Err()
}

func (r *APIKeyRepo) Delete(ctx context.Context, id, accountID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM api_keys WHERE id = $1 AND account_id = $2
	`, id, accountID)
	return err
}
