package repository

import (
	"github.com/DraftDeskHQ/DraftDesk/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// templateRepository implements the TemplateRepository interface
type templateRepository struct {
	db *gorm.DB
}

// NewTemplateRepository creates a new template repository instance
func NewTemplateRepository(db *gorm.DB) TemplateRepository {
	return &templateRepository{db: db}
}

// GetActiveByKey returns the active template for the key
func (r *templateRepository) GetActiveByKey(templateKey string) (*models.MessageTemplate, error) {
	var tpl models.MessageTemplate
	err := r.db.Where("template_key = ? AND is_active = ?", templateKey, true).First(&tpl).Error
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}

// Upsert creates or refreshes a template by its key, used by seeding
func (r *templateRepository) Upsert(template *models.MessageTemplate) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "template_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"channel",
			"subject",
			"body",
			"required_feature",
			"is_active",
			"updated_at",
		}),
	}).Create(template).Error
}

// List returns every template
func (r *templateRepository) List() ([]models.MessageTemplate, error) {
	var templates []models.MessageTemplate
	err := r.db.Order("template_key ASC").Find(&templates).Error
	return templates, err
}
