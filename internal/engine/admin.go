package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"bountyline/internal/config"
	"bountyline/internal/domain"
	"bountyline/internal/repo"
)

// ImportConfig validates and stores cfg as the ledger configuration.
func (e Engine) ImportConfig(ctx context.Context, cfg *config.Config) error {
	return e.Repo.UpsertConfig(ctx, nil, cfg)
}

func (e Engine) ListEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	return e.Repo.EventsAfter(ctx, f)
}

// CreateAPIKey issues a random key bound to addr. Only its hash is stored;
// the plaintext is returned once.
func (e Engine) CreateAPIKey(ctx context.Context, addr common.Address, name string) (domain.APIKey, string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("generate api key: %w", err)
	}
	plain := "bl_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		Address:   addr.Hex(),
		Name:      name,
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.now().UTC().Format(timeLayout),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plain, nil
}
