package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shiptrack/internal/config"
	"shiptrack/internal/events"
	"shiptrack/internal/repo"
)

// ResolveWorkspaceAndConfig picks the active workspace and ensures a
// workspace + config row exist in the store, seeding defaults if missing.
// It prefers the override, then the single workspace in the DB. A missing
// workspace is created on the fly.
func ResolveWorkspaceAndConfig(ctx context.Context, override, actorID string, r repo.Repo) (string, *config.Config, error) {
	workspaceID := override
	if workspaceID == "" {
		if w, err := r.SingleWorkspace(ctx); err == nil {
			workspaceID = w.ID
		} else {
			return "", nil, fmt.Errorf("workspace not specified; use --workspace-id or run st init")
		}
	}
	seedCfg := config.Default(workspaceID)

	if _, err := r.GetWorkspace(ctx, workspaceID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createWorkspace(ctx, r, workspaceID, actorID, seedCfg); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetWorkspaceConfig(ctx, workspaceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.UpsertWorkspaceConfig(ctx, workspaceID, seedCfg); err != nil {
				return "", nil, fmt.Errorf("seed workspace config: %w", err)
			}
			cfg = seedCfg
		} else {
			return "", nil, err
		}
	}
	cfg.Workspace.ID = workspaceID
	return workspaceID, cfg, nil
}

func createWorkspace(ctx context.Context, r repo.Repo, workspaceID, actorID string, seedCfg *config.Config) error {
	if seedCfg == nil {
		seedCfg = config.Default(workspaceID)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO workspaces(id,name,status,created_at) VALUES (?,?,?,?)`,
		workspaceID, workspaceID, "active", now); err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	if err := r.UpsertWorkspaceConfigTx(ctx, tx, workspaceID, seedCfg); err != nil {
		return fmt.Errorf("insert workspace config: %w", err)
	}
	w := events.Writer{DB: r.DB}
	if err := w.Append(ctx, tx, "workspace.init", workspaceID, "workspace", workspaceID, actorID, events.EventPayload{"name": workspaceID}); err != nil {
		return err
	}
	return tx.Commit()
}
