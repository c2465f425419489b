package cmd

import (
	"context"
	"fmt"
	"io"

	"kharomchat/internal/config"
	"kharomchat/internal/redis"
	"kharomchat/internal/service/ai"
	"kharomchat/internal/service/chat"
	"kharomchat/internal/service/history"
	"kharomchat/internal/service/session"
	"kharomchat/internal/storage"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

var nopCloser = closerFunc(func() error { return nil })

// openKeyValue opens the configured storage backend, wrapped with encryption when a key is set.
func openKeyValue(cfg *config.Config) (storage.KeyValue, io.Closer, error) {
	var (
		kv     storage.KeyValue
		closer io.Closer
	)
	switch backend := cfg.Storage.Backend; backend {
	case "memory":
		kv, closer = storage.NewMemory(), nopCloser
	case "sqlite", "sqlite3", "mysql", "postgres":
		db, err := storage.Open(backend, cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := storage.Migrate(db, backend); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate database: %w", err)
		}
		store, err := storage.NewSQLStore(db, backend)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		kv, closer = store, store
	case "redis":
		client, err := redis.NewRedisClient(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("create redis client: %w", err)
		}
		kv, closer = client, client
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", backend)
	}

	if cfg.Storage.EncryptionKey != "" {
		enc, err := storage.NewEncrypted(kv, cfg.Storage.EncryptionKey)
		if err != nil {
			closer.Close()
			return nil, nil, fmt.Errorf("init storage encryption: %w", err)
		}
		kv = enc
	}
	return kv, closer, nil
}

func newHistoryStore(cfg *config.Config, kv storage.KeyValue) *history.Store {
	return history.NewStore(kv,
		history.WithKeys(cfg.Storage.KeyPrefix, cfg.Storage.IndexKey),
		history.WithSnippetLength(cfg.Storage.SnippetLength),
	)
}

// sessionCore bundles the pieces every client surface needs.
type sessionCore struct {
	store  *history.Store
	coord  *session.Coordinator
	turns  *chat.Orchestrator
	closer io.Closer
}

func (c *sessionCore) Close() error {
	c.coord.Close()
	return c.closer.Close()
}

func openSessionCore(ctx context.Context, cfg *config.Config) (*sessionCore, error) {
	kv, closer, err := openKeyValue(cfg)
	if err != nil {
		return nil, err
	}
	sender, err := buildSender(ctx, cfg)
	if err != nil {
		closer.Close()
		return nil, err
	}
	store := newHistoryStore(cfg, kv)
	coord := session.NewCoordinator(store)
	return &sessionCore{
		store:  store,
		coord:  coord,
		turns:  chat.NewOrchestrator(coord, sender),
		closer: closer,
	}, nil
}

// buildSender picks how prompts reach the model.
func buildSender(ctx context.Context, cfg *config.Config) (chat.PromptSender, error) {
	switch cfg.Chat.Mode {
	case config.ChatModeDirect:
		return buildModelService(ctx, cfg)
	default:
		return ai.NewClient(cfg.Chat.APIURL, cfg.ChatTimeout()), nil
	}
}

func buildModelService(ctx context.Context, cfg *config.Config) (*ai.Service, error) {
	provider := cfg.Chat.Provider
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}
	svc, err := ai.NewService(ctx, provider, provCfg, cfg.ChatTimeout())
	if err != nil {
		return nil, fmt.Errorf("init ai service: %w", err)
	}
	return svc, nil
}
