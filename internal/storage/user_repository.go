package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/faveindex/internal/errors"
	"github.com/faveindex/internal/models"
	"github.com/jackc/pgx/v5"
)

const userColumns = `id, screen_name, indexed_entries, last_index_time, lock, lock_expires_at,
	encrypted_token, encrypted_token_secret, created_at, updated_at`

// UserRepository persists UserRecords in Postgres
type UserRepository struct {
	db *PostgresDB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *PostgresDB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user. An existing id yields a conflict error.
func (r *UserRepository) Create(ctx context.Context, user *models.UserRecord) error {
	if user.ID == "" {
		return apperrors.NewInvalidParameterError("id", "must not be empty")
	}

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
		INSERT INTO users (id, screen_name, indexed_entries, last_index_time, lock, lock_expires_at,
			encrypted_token, encrypted_token_secret, created_at, updated_at)
		VALUES ($1, $2, $3, $4, FALSE, NULL, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`

	tag, err := r.db.Pool().Exec(ctx, query,
		user.ID,
		user.ScreenName,
		user.IndexedEntries,
		user.LastIndexTime,
		user.EncryptedToken,
		user.EncryptedTokenSecret,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return apperrors.NewStoreError("create user", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewConflictError(fmt.Sprintf("user already exists: %s", user.ID))
	}
	return nil
}

// Get retrieves a user by id
func (r *UserRepository) Get(ctx context.Context, id string) (*models.UserRecord, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("user", id)
		}
		return nil, apperrors.NewStoreError("get user", err)
	}
	return user, nil
}

// Exists reports whether a user row is present
func (r *UserRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.Pool().QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, apperrors.NewStoreError("check user", err)
	}
	return exists, nil
}

// Update applies the non-nil fields of update
func (r *UserRepository) Update(ctx context.Context, id string, update models.UserUpdate) error {
	sets, args := buildUserUpdate(update)
	if len(sets) == 0 {
		return nil
	}

	args = append(args, time.Now().UTC(), id)
	query := fmt.Sprintf(
		`UPDATE users SET %s, updated_at = $%d WHERE id = $%d`,
		strings.Join(sets, ", "), len(args)-1, len(args),
	)

	tag, err := r.db.Pool().Exec(ctx, query, args...)
	if err != nil {
		return apperrors.NewStoreError("update user", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("user", id)
	}
	return nil
}

// buildUserUpdate turns the set fields of update into numbered SET clauses
func buildUserUpdate(update models.UserUpdate) ([]string, []interface{}) {
	var sets []string
	var args []interface{}

	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.ScreenName != nil {
		add("screen_name", *update.ScreenName)
	}
	if update.IndexedEntries != nil {
		add("indexed_entries", *update.IndexedEntries)
	}
	if update.LastIndexTime != nil {
		add("last_index_time", *update.LastIndexTime)
	}
	if update.EncryptedToken != nil {
		add("encrypted_token", *update.EncryptedToken)
	}
	if update.EncryptedTokenSecret != nil {
		add("encrypted_token_secret", *update.EncryptedTokenSecret)
	}
	return sets, args
}

// Delete removes a user. Deleting a missing user is not an error.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.Pool().Exec(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
		return apperrors.NewStoreError("delete user", err)
	}
	return nil
}

// List returns users ordered by id, starting after the given id
func (r *UserRepository) List(ctx context.Context, afterID string, limit int) ([]*models.UserRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE id > $1 ORDER BY id LIMIT $2`
	rows, err := r.db.Pool().Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, apperrors.NewStoreError("list users", err)
	}
	defer rows.Close()

	var users []*models.UserRecord
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, apperrors.NewStoreError("scan user", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreError("list users", err)
	}
	return users, nil
}

// AcquireLock atomically takes the indexing lock for lease on behalf of
// owner. It succeeds when the lock is free or the previous lease expired
// before now. A held lock returns ErrLockHeld.
func (r *UserRepository) AcquireLock(ctx context.Context, id, owner string, now time.Time, lease time.Duration) error {
	query := `
		UPDATE users
		SET lock = TRUE, lock_owner = $2, lock_expires_at = $4, updated_at = $3
		WHERE id = $1 AND (lock = FALSE OR lock_expires_at IS NULL OR lock_expires_at <= $3)
	`
	tag, err := r.db.Pool().Exec(ctx, query, id, owner, now.UTC(), now.Add(lease).UTC())
	if err != nil {
		return apperrors.NewStoreError("acquire lock", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	exists, err := r.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return apperrors.NewNotFoundError("user", id)
	}
	return apperrors.ErrLockHeld
}

// RenewLock extends owner's lease to now+lease. It returns ErrLockLost once
// the lock was released or taken over by another owner.
func (r *UserRepository) RenewLock(ctx context.Context, id, owner string, now time.Time, lease time.Duration) error {
	query := `
		UPDATE users
		SET lock_expires_at = $4, updated_at = $3
		WHERE id = $1 AND lock AND lock_owner = $2
	`
	tag, err := r.db.Pool().Exec(ctx, query, id, owner, now.UTC(), now.Add(lease).UTC())
	if err != nil {
		return apperrors.NewStoreError("renew lock", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrLockLost
	}
	return nil
}

// ReleaseLock clears the lock if owner still holds it. Releasing a lock
// that has since been taken over is a no-op.
func (r *UserRepository) ReleaseLock(ctx context.Context, id, owner string) error {
	query := `
		UPDATE users
		SET lock = FALSE, lock_owner = NULL, lock_expires_at = NULL, updated_at = $3
		WHERE id = $1 AND lock_owner = $2
	`
	if _, err := r.db.Pool().Exec(ctx, query, id, owner, time.Now().UTC()); err != nil {
		return apperrors.NewStoreError("release lock", err)
	}
	return nil
}

// ForceReleaseLock clears the lock whoever holds it
func (r *UserRepository) ForceReleaseLock(ctx context.Context, id string) error {
	query := `UPDATE users SET lock = FALSE, lock_owner = NULL, lock_expires_at = NULL, updated_at = $2 WHERE id = $1`
	if _, err := r.db.Pool().Exec(ctx, query, id, time.Now().UTC()); err != nil {
		return apperrors.NewStoreError("release lock", err)
	}
	return nil
}

// ReleaseAllLocks clears every held lock and returns how many were cleared
func (r *UserRepository) ReleaseAllLocks(ctx context.Context) (int64, error) {
	query := `UPDATE users SET lock = FALSE, lock_owner = NULL, lock_expires_at = NULL, updated_at = $1 WHERE lock`
	tag, err := r.db.Pool().Exec(ctx, query, time.Now().UTC())
	if err != nil {
		return 0, apperrors.NewStoreError("release locks", err)
	}
	return tag.RowsAffected(), nil
}

func scanUser(row pgx.Row) (*models.UserRecord, error) {
	var user models.UserRecord
	err := row.Scan(
		&user.ID,
		&user.ScreenName,
		&user.IndexedEntries,
		&user.LastIndexTime,
		&user.Lock,
		&user.LockExpiresAt,
		&user.EncryptedToken,
		&user.EncryptedTokenSecret,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}
