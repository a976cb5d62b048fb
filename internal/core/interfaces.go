package core

import (
	"context"
	"time"

	domainauth "github.com/target/portal-api/internal/domain/auth"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// These interfaces define the contracts between the service layer and data layer.
// Service implementations should depend on these interfaces, not concrete implementations.

// ProfileRepository defines the interface for profile data operations.
type ProfileRepository interface {
	GetByID(ctx context.Context, id string) (*domainauth.Profile, error)
	Insert(ctx context.Context, p domainauth.NewProfile) (*domainauth.Profile, error)
	// Upsert creates the row or corrects it; an existing admin role is never downgraded.
	Upsert(ctx context.Context, req domainauth.FixProfileRequest) (*domainauth.Profile, error)
	UpdatePresence(ctx context.Context, params UpdatePresenceParams) error
	ListClients(ctx context.Context, opts ClientListOptions) ([]*domainauth.Profile, error)
}

// UpdatePresenceParams groups parameters for ProfileRepository.UpdatePresence.
type UpdatePresenceParams struct {
	ID     string
	Online bool
	SeenAt time.Time
}

// ClientListOptions filters ProfileRepository.ListClients.
type ClientListOptions struct {
	// Search matches full name or email, case-insensitively.
	Search string
	Limit  int
	Offset int
}
