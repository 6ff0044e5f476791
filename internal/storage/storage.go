// Package storage persists project directory records with GORM and provides
// the replicated channel stores that carry project chat records.
package storage

import (
	"context"
	"errors"
	"fundchat/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrProjectNotFound is returned when no project has the requested uid.
var ErrProjectNotFound = errors.New("project not found")

// Storage is the persistence contract of the project directory.
type Storage interface {
	SaveProject(ctx context.Context, project *models.Project) error
	GetProject(ctx context.Context, projectUID string) (*models.Project, error)

	SetDeployed(ctx context.Context, projectUID string, deployed bool) error
	SetFreezeThreshold(ctx context.Context, projectUID string, threshold int) error
	MarkFrozen(ctx context.Context, projectUID string) error

	// CreditFund applies a payment at most once per TxID. It reports whether
	// this call credited the project.
	CreditFund(ctx context.Context, credit *models.FundCredit) (bool, error)
}

type Service struct {
	DB *gorm.DB
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB) *Service {
	return &Service{DB: db}
}

// AutoMigrate creates or updates the directory tables.
func (s *Service) AutoMigrate() error {
	return s.DB.AutoMigrate(
		&models.Project{},
		&models.Milestone{},
		&models.FundCredit{},
	)
}

// keptOnSave are the columns a re-saved project never overwrites: they
// change only through the deploy, freeze and credit paths.
var keptOnSave = []string{"project_uid", "deployed", "frozen", "amount_raised", "created_at"}

// SaveProject creates a project with its milestones, or replaces the
// details and milestones of an existing one. Deployed, Frozen and
// AmountRaised of an existing project are kept and copied back into project.
func (s *Service) SaveProject(ctx context.Context, project *models.Project) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Project
		err := tx.Where("project_uid = ?", project.ProjectUID).Take(&existing).Error
		if project.ProjectUID == "" || errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(project).Error
		}
		if err != nil {
			return err
		}

		omit := append([]string{clause.Associations}, keptOnSave...)
		if err := tx.Model(project).Select("*").Omit(omit...).Updates(project).Error; err != nil {
			return err
		}
		project.Deployed = existing.Deployed
		project.Frozen = existing.Frozen
		project.AmountRaised = existing.AmountRaised
		project.CreatedAt = existing.CreatedAt

		if err := tx.Where("project_uid = ?", project.ProjectUID).Delete(&models.Milestone{}).Error; err != nil {
			return err
		}
		if len(project.Milestones) == 0 {
			return nil
		}
		for i := range project.Milestones {
			project.Milestones[i].ID = 0
			project.Milestones[i].ProjectUID = project.ProjectUID
		}
		return tx.Create(&project.Milestones).Error
	})
}

// GetProject loads a project and its milestones in roadmap order.
func (s *Service) GetProject(ctx context.Context, projectUID string) (*models.Project, error) {
	var project models.Project
	err := s.DB.WithContext(ctx).
		Preload("Milestones", func(db *gorm.DB) *gorm.DB {
			return db.Order("position asc")
		}).
		Where("project_uid = ?", projectUID).
		First(&project).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, err
	}
	return &project, nil
}

func (s *Service) SetDeployed(ctx context.Context, projectUID string, deployed bool) error {
	return s.updateColumn(ctx, projectUID, "deployed", deployed)
}

func (s *Service) SetFreezeThreshold(ctx context.Context, projectUID string, threshold int) error {
	return s.updateColumn(ctx, projectUID, "freeze_threshold", threshold)
}

// MarkFrozen sets the terminal frozen flag. Marking twice is harmless.
func (s *Service) MarkFrozen(ctx context.Context, projectUID string) error {
	return s.updateColumn(ctx, projectUID, "frozen", true)
}

func (s *Service) updateColumn(ctx context.Context, projectUID, column string, value any) error {
	res := s.DB.WithContext(ctx).Model(&models.Project{}).
		Where("project_uid = ?", projectUID).
		Update(column, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrProjectNotFound
	}
	return nil
}

// CreditFund inserts the credit keyed by TxID and raises AmountRaised in the
// same transaction. A TxID seen before leaves the project untouched.
func (s *Service) CreditFund(ctx context.Context, credit *models.FundCredit) (bool, error) {
	credited := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(credit)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		upd := tx.Model(&models.Project{}).
			Where("project_uid = ?", credit.ProjectUID).
			UpdateColumn("amount_raised", gorm.Expr("amount_raised + ?", credit.Amount))
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return ErrProjectNotFound
		}
		credited = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return credited, nil
}
