package funding

import (
	"context"
	"errors"
	"fmt"
	"fundchat/backend/internal/chathub"
	"fundchat/backend/internal/directory"
	"fundchat/backend/internal/metrics"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	transferMemo    = "funding"
	callbackTimeout = 10 * time.Second
)

var ErrInvalidAmount = errors.New("amount out of range")

// Transfer is one funding attempt as the service tracks it.
type Transfer struct {
	ID         string          `json:"id"`
	ProjectUID string          `json:"projectuid"`
	Funder     string          `json:"funder,omitempty"`
	Amount     int64           `json:"amount"`
	Request    TransferRequest `json:"request"`
	TxID       string          `json:"txid,omitempty"`
	Completed  bool            `json:"completed"`
	// LastError is the most recent failure to credit a finished transfer.
	LastError string `json:"lastError,omitempty"`
}

type Service struct {
	dir     directory.Service
	rail    Rail
	network string
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu          sync.Mutex
	transfers   map[string]*Transfer
	completedTx map[string]struct{}
	// inflightTx holds txids whose directory update has not returned yet.
	inflightTx map[string]struct{}
}

func NewService(dir directory.Service, rail Rail, network string, log zerolog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		dir:         dir,
		rail:        rail,
		network:     network,
		log:         log.With().Str("component", "funding").Logger(),
		metrics:     m,
		transfers:   make(map[string]*Transfer),
		completedTx: make(map[string]struct{}),
		inflightTx:  make(map[string]struct{}),
	}
}

// Begin checks the project and hands a new transfer to the rail.
func (s *Service) Begin(ctx context.Context, projectUID, funder string, amount int64) (Transfer, error) {
	if amount <= 0 || amount > MaxAmount {
		return Transfer{}, ErrInvalidAmount
	}

	project, err := s.dir.GetProject(ctx, projectUID)
	if err != nil {
		return Transfer{}, err
	}
	if !project.Deployed {
		return Transfer{}, chathub.ErrProjectIssue
	}
	if project.Frozen {
		return Transfer{}, chathub.ErrAlreadyFrozen
	}

	t := &Transfer{
		ID:         uuid.NewString(),
		ProjectUID: projectUID,
		Funder:     funder,
		Amount:     amount,
		Request: TransferRequest{
			Network:     s.network,
			Recipient:   project.OwnerAddress,
			AmountMicro: amount * MicroPerUnit,
			Memo:        transferMemo,
		},
	}

	s.mu.Lock()
	s.transfers[t.ID] = t
	s.mu.Unlock()

	id := t.ID
	onFinish := func(txID string) {
		cctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
		defer cancel()
		if err := s.Finish(cctx, id, txID); err != nil {
			s.log.Error().Err(err).Str("transfer", id).Str("tx", txID).Msg("crediting finished transfer failed")
		}
	}
	onCancel := func() { s.Cancel(id) }

	if err := s.rail.Transfer(WithPendingID(ctx, id), t.Request, onFinish, onCancel); err != nil {
		s.mu.Lock()
		delete(s.transfers, id)
		s.mu.Unlock()
		return Transfer{}, fmt.Errorf("start transfer: %w", err)
	}

	s.log.Info().Str("transfer", id).Str("project", projectUID).Int64("amount", amount).Msg("transfer started")
	return *t, nil
}

// Finish credits the project for txID. A txID credited before is a no-op,
// here and in the directory.
func (s *Service) Finish(ctx context.Context, transferID, txID string) error {
	s.mu.Lock()
	_, done := s.completedTx[txID]
	_, busy := s.inflightTx[txID]
	if done || busy {
		s.mu.Unlock()
		s.metrics.RecordFundCallback("duplicate")
		return nil
	}
	t, ok := s.transfers[transferID]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownTransfer
	}
	if t.Completed {
		s.mu.Unlock()
		s.log.Warn().Str("transfer", transferID).Str("tx", txID).Str("credited_tx", t.TxID).Msg("transfer already credited under another tx")
		s.metrics.RecordFundCallback("duplicate")
		return nil
	}
	update := directory.FundUpdate{ProjectUID: t.ProjectUID, Amount: t.Amount, TxID: txID, Funder: t.Funder}
	s.inflightTx[txID] = struct{}{}
	s.mu.Unlock()

	err := s.dir.UpdateProjectFund(ctx, update)

	s.mu.Lock()
	delete(s.inflightTx, txID)
	if err != nil {
		t.LastError = err.Error()
		s.mu.Unlock()
		s.metrics.RecordFundCallback("failed")
		return fmt.Errorf("update project fund: %w", err)
	}

	s.completedTx[txID] = struct{}{}
	t.TxID = txID
	t.Completed = true
	t.LastError = ""
	s.mu.Unlock()

	s.metrics.RecordFundCallback("finish")
	s.log.Info().Str("transfer", transferID).Str("tx", txID).Str("project", update.ProjectUID).Msg("transfer credited")
	return nil
}

// Cancel forgets an unfinished transfer. Nothing is retried.
func (s *Service) Cancel(transferID string) {
	s.mu.Lock()
	t, ok := s.transfers[transferID]
	if ok && !t.Completed {
		delete(s.transfers, transferID)
	}
	s.mu.Unlock()

	s.metrics.RecordFundCallback("cancel")
	s.log.Info().Str("transfer", transferID).Msg("transfer cancelled")
}

// Lookup returns a copy of a tracked transfer.
func (s *Service) Lookup(transferID string) (Transfer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transfers[transferID]
	if !ok {
		return Transfer{}, false
	}
	return *t, true
}
