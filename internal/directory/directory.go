// Package directory is the chat core's view of the Project Directory
// Service: reading a project, crediting funds and persisting the frozen flag.
package directory

import (
	"context"
	"errors"
	"fundchat/backend/internal/models"
	"fundchat/backend/internal/storage"
)

var (
	// ErrDirectoryUnavailable covers transport failures, server errors and an
	// open circuit breaker.
	ErrDirectoryUnavailable = errors.New("project directory unavailable")
	// ErrProjectNotFound is shared with storage so errors.Is works on both sides.
	ErrProjectNotFound = storage.ErrProjectNotFound
)

// FundUpdate credits Amount to a project once per TxID.
type FundUpdate struct {
	ProjectUID string `json:"projectuid" validate:"required"`
	Amount     int64  `json:"amount" validate:"gt=0"`
	TxID       string `json:"txid" validate:"required"`
	Funder     string `json:"funder,omitempty"`
}

// ProjectResponse is the body of get-project. A null project means the
// directory has no such uid.
type ProjectResponse struct {
	Project *models.Project `json:"project"`
}

type Service interface {
	GetProject(ctx context.Context, projectUID string) (*models.Project, error)
	UpdateProjectFund(ctx context.Context, update FundUpdate) error
	MarkFrozen(ctx context.Context, projectUID string) error
}

// Credentials are the opaque auth headers forwarded to the directory.
type Credentials struct {
	PublicKey string
	Signature string
}

type credentialsKey struct{}

// WithCredentials scopes caller credentials to ctx. They take precedence
// over the client's static credentials.
func WithCredentials(ctx context.Context, creds Credentials) context.Context {
	return context.WithValue(ctx, credentialsKey{}, creds)
}

func credentialsFrom(ctx context.Context) (Credentials, bool) {
	creds, ok := ctx.Value(credentialsKey{}).(Credentials)
	return creds, ok
}
