package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/meetsmatch/roommates/internal/config"
	"github.com/meetsmatch/roommates/internal/database"
	"github.com/meetsmatch/roommates/internal/dynamo"
	"github.com/meetsmatch/roommates/internal/interfaces"
	"github.com/meetsmatch/roommates/internal/telemetry"
)

// backend is the storage selected by store.driver.
type backend struct {
	profiles interfaces.ProfileSource
	store    interfaces.MatchStore
	issuer   interfaces.ConversationIssuer

	db            *database.DB
	dynamo        *dynamo.MatchStore
	conversations *dynamo.ConversationStore
}

// openBackend connects the configured store. The memory and dynamodb drivers
// read profiles from store.profiles_file. Only the memory driver issues
// conversations in process.
func openBackend(ctx context.Context, c *config.Config) (*backend, error) {
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"operation": "open_backend",
		"driver":    c.Store.Driver,
	})

	switch c.Store.Driver {
	case config.DriverPostgres:
		db, err := database.NewInstrumentedConnection(c.Database)
		if err != nil {
			return nil, err
		}
		logger.Info("Using PostgreSQL store")
		return &backend{
			profiles: database.NewProfileRepository(db),
			store:    database.NewMatchRepository(db),
			issuer:   database.NewConversationRepository(db),
			db:       db,
		}, nil

	case config.DriverMemory, config.DriverDynamoDB:
		memory, err := loadMemoryStore(c.Store.ProfilesFile)
		if err != nil {
			return nil, err
		}
		b := &backend{profiles: memory, store: memory, issuer: memory}

		if c.Store.Driver == config.DriverDynamoDB {
			client, err := dynamo.NewClient(ctx, c.Dynamo)
			if err != nil {
				return nil, err
			}
			store, err := dynamo.NewMatchStore(client, c.Dynamo.Table)
			if err != nil {
				return nil, err
			}
			conversations, err := dynamo.NewConversationStore(client, c.Dynamo.ConversationsTable)
			if err != nil {
				return nil, err
			}
			b.store, b.dynamo = store, store
			b.issuer, b.conversations = conversations, conversations
			logger.WithFields(map[string]interface{}{
				"table":               c.Dynamo.Table,
				"conversations_table": c.Dynamo.ConversationsTable,
			}).Info("Using DynamoDB match store")
		} else {
			logger.Info("Using in-memory store")
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", c.Store.Driver)
}

func loadMemoryStore(profilesFile string) (*database.MemoryStore, error) {
	memory := database.NewMemoryStore()
	if profilesFile == "" {
		return memory, nil
	}
	if err := memory.LoadProfilesFile(profilesFile); err != nil {
		return nil, err
	}
	return memory, nil
}

// migrate prepares the schema of the selected store.
func (b *backend) migrate(ctx context.Context) error {
	switch {
	case b.db != nil:
		return database.Migrate(ctx, b.db)
	case b.dynamo != nil:
		if err := b.dynamo.EnsureTable(ctx); err != nil {
			return err
		}
		return b.conversations.EnsureTable(ctx)
	}
	return errors.New("the memory store has no schema to migrate")
}

func (b *backend) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}
