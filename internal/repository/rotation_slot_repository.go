package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/cliniclink-api/internal/models"
)

// RotationSlotRepository reads rotation slots and their placements.
type RotationSlotRepository struct {
	db *sqlx.DB
}

// NewRotationSlotRepository constructs the repository.
func NewRotationSlotRepository(db *sqlx.DB) *RotationSlotRepository {
	return &RotationSlotRepository{db: db}
}

// FindByID returns a slot by identifier.
func (r *RotationSlotRepository) FindByID(ctx context.Context, id string) (*models.RotationSlot, error) {
	const query = `SELECT id, site_id, preceptor_id, name, start_date, end_date FROM rotation_slots WHERE id = $1`
	var slot models.RotationSlot
	if err := r.db.GetContext(ctx, &slot, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find rotation slot: %w", err)
	}
	return &slot, nil
}

// HasStudent reports whether the student holds an accepted placement on the slot.
func (r *RotationSlotRepository) HasStudent(ctx context.Context, slotID, studentID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM placements WHERE slot_id = $1 AND student_id = $2 AND status = 'accepted')`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, slotID, studentID); err != nil {
		return false, fmt.Errorf("check slot placement: %w", err)
	}
	return exists, nil
}
