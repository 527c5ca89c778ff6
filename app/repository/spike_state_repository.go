package repository

import (
	"github.com/DraftDeskHQ/DraftDesk/app/models"
	"gorm.io/gorm"
)

// spikeStateRepository implements the SpikeStateRepository interface
type spikeStateRepository struct {
	db *gorm.DB
}

// NewSpikeStateRepository creates a new spike state repository instance
func NewSpikeStateRepository(db *gorm.DB) SpikeStateRepository {
	return &spikeStateRepository{db: db}
}

// Get returns the singleton cooldown row, creating it on first use
func (r *spikeStateRepository) Get() (*models.SpikeAlertState, error) {
	var state models.SpikeAlertState
	err := r.db.First(&state, 1).Error
	if err == gorm.ErrRecordNotFound {
		state = models.SpikeAlertState{ID: 1}
		if err := r.db.Create(&state).Error; err != nil {
			return nil, err
		}
		return &state, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// Save persists the cooldown row
func (r *spikeStateRepository) Save(state *models.SpikeAlertState) error {
	return r.db.Save(state).Error
}
