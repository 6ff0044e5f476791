package directory

import (
	"context"
	"fundchat/backend/internal/models"
	"fundchat/backend/internal/storage"

	"github.com/rs/zerolog"
)

// Local serves the directory from the process's own database.
type Local struct {
	Storage storage.Storage
	log     zerolog.Logger
}

func NewLocal(s storage.Storage, log zerolog.Logger) *Local {
	return &Local{Storage: s, log: log.With().Str("component", "directory").Logger()}
}

func (l *Local) GetProject(ctx context.Context, projectUID string) (*models.Project, error) {
	return l.Storage.GetProject(ctx, projectUID)
}

// UpdateProjectFund is idempotent per TxID.
func (l *Local) UpdateProjectFund(ctx context.Context, update FundUpdate) error {
	credited, err := l.Storage.CreditFund(ctx, &models.FundCredit{
		TxID:       update.TxID,
		ProjectUID: update.ProjectUID,
		Amount:     update.Amount,
		Funder:     update.Funder,
	})
	if err != nil {
		return err
	}
	if !credited {
		l.log.Info().Str("tx", update.TxID).Str("project", update.ProjectUID).Msg("fund update already applied")
		return nil
	}
	l.log.Info().Str("tx", update.TxID).Str("project", update.ProjectUID).Int64("amount", update.Amount).Msg("fund credited")
	return nil
}

func (l *Local) MarkFrozen(ctx context.Context, projectUID string) error {
	return l.Storage.MarkFrozen(ctx, projectUID)
}
