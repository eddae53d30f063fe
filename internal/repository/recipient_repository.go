package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	"FleetRiskAPI/internal/models"

	"github.com/lib/pq"
)

// IRecipientRepository is the directory of users that receive alert notifications.
type IRecipientRepository interface {
	List(ctx context.Context) ([]models.Recipient, error)
	// ListSubscribers returns recipients allowed to see alerts for every asset.
	ListSubscribers(ctx context.Context) ([]models.Recipient, error)
	GetByIDs(ctx context.Context, ids []string) ([]models.Recipient, error)
	Upsert(ctx context.Context, r *models.Recipient) error
}

type RecipientRepository struct {
	db *sql.DB
}

func NewRecipientRepository(db *sql.DB) *RecipientRepository {
	return &RecipientRepository{db: db}
}

const recipientColumns = `id, name, email, chat_handle, role, can_view_all_resources, channels`

func (r *RecipientRepository) query(ctx context.Context, query string, args ...any) ([]models.Recipient, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recipients: %w", err)
	}
	defer rows.Close()

	var out []models.Recipient
	for rows.Next() {
		var rc models.Recipient
		if err := rows.Scan(
			&rc.ID, &rc.Name, &rc.Email, &rc.ChatHandle, &rc.Role,
			&rc.CanViewAllResources, pq.Array(&rc.Channels),
		); err != nil {
			return nil, fmt.Errorf("failed to scan recipient: %w", err)
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

func (r *RecipientRepository) List(ctx context.Context) ([]models.Recipient, error) {
	return r.query(ctx, `SELECT `+recipientColumns+` FROM recipients ORDER BY id`)
}

func (r *RecipientRepository) ListSubscribers(ctx context.Context) ([]models.Recipient, error) {
	return r.query(ctx, `SELECT `+recipientColumns+` FROM recipients WHERE can_view_all_resources ORDER BY id`)
}

func (r *RecipientRepository) GetByIDs(ctx context.Context, ids []string) ([]models.Recipient, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.query(ctx, `SELECT `+recipientColumns+` FROM recipients WHERE id = ANY($1) ORDER BY id`, pq.Array(ids))
}

func (r *RecipientRepository) Upsert(ctx context.Context, rc *models.Recipient) error {
	if rc.ID == "" {
		return errors.New("recipient id is required")
	}
	query := `
		INSERT INTO recipients (` + recipientColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			chat_handle = EXCLUDED.chat_handle,
			role = EXCLUDED.role,
			can_view_all_resources = EXCLUDED.can_view_all_resources,
			channels = EXCLUDED.channels
	`
	_, err := r.db.ExecContext(ctx, query,
		rc.ID, rc.Name, rc.Email, rc.ChatHandle, rc.Role, rc.CanViewAllResources, pq.Array(rc.Channels),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert recipient: %w", err)
	}
	return nil
}

// MemoryRecipientRepository is the in-process recipient directory.
type MemoryRecipientRepository struct {
	mu         sync.RWMutex
	recipients map[string]models.Recipient
}

func NewMemoryRecipientRepository(seed ...models.Recipient) *MemoryRecipientRepository {
	m := &MemoryRecipientRepository{recipients: make(map[string]models.Recipient)}
	for _, r := range seed {
		m.recipients[r.ID] = r
	}
	return m
}

func (m *MemoryRecipientRepository) filter(keep func(models.Recipient) bool) []models.Recipient {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Recipient
	for _, r := range m.recipients {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryRecipientRepository) List(ctx context.Context) ([]models.Recipient, error) {
	return m.filter(func(models.Recipient) bool { return true }), nil
}

func (m *MemoryRecipientRepository) ListSubscribers(ctx context.Context) ([]models.Recipient, error) {
	return m.filter(func(r models.Recipient) bool { return r.CanViewAllResources }), nil
}

func (m *MemoryRecipientRepository) GetByIDs(ctx context.Context, ids []string) ([]models.Recipient, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	return m.filter(func(r models.Recipient) bool { return want[r.ID] }), nil
}

func (m *MemoryRecipientRepository) Upsert(ctx context.Context, rc *models.Recipient) error {
	if rc.ID == "" {
		return errors.New("recipient id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recipients[rc.ID] = *rc
	return nil
}
