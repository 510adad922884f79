// Package prefs consumes the read contract of the external preference and
// subscriber storage: which recipients are subscribed, where they are
// delivered, and what they filter on. Write semantics belong to the chat
// command surface, not this core.
package prefs

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congenial-acorn/goldwatch/internal/config"
	"github.com/congenial-acorn/goldwatch/internal/dispatch"
	"github.com/congenial-acorn/goldwatch/internal/filter"
	"github.com/congenial-acorn/goldwatch/internal/store"
)

// Service resolves recipients and preference sets from Postgres.
type Service struct {
	pool *pgxpool.Pool
}

// New creates a Service with its own connection pool. Prepared statements
// are registered on every new connection.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Service{pool: pool}, nil
}

// Close releases the pool.
func (s *Service) Close() {
	s.pool.Close()
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (s *Service) HealthCheck(ctx context.Context) error {
	var n int
	return s.pool.QueryRow(ctx, "health_check").Scan(&n)
}

func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		"health_check": "SELECT 1",

		// Guild channels: opted-out guilds are excluded at the source.
		"get_guild_recipients": `
			SELECT guild_id::text, webhook_url
			FROM guild_settings
			WHERE opted_out = false AND webhook_url <> ''
			ORDER BY guild_id`,

		// Individual subscribers.
		"get_user_recipients": `
			SELECT user_id::text, webhook_url
			FROM user_subscribers
			WHERE active = true
			ORDER BY user_id`,

		// Preference selections for one recipient.
		"get_recipient_preferences": `
			SELECT category, selection
			FROM recipient_preferences
			WHERE recipient_type = $1 AND recipient_id = $2`,
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}

// Recipients returns every subscribed destination with its resolved
// preference set. Selections are normalized against the option registry so
// the filter only ever sees canonical spellings.
func (s *Service) Recipients(ctx context.Context) ([]dispatch.Recipient, error) {
	var recipients []dispatch.Recipient

	guilds, err := s.listRecipients(ctx, "get_guild_recipients", store.RecipientGuild)
	if err != nil {
		return nil, fmt.Errorf("list guild recipients: %w", err)
	}
	recipients = append(recipients, guilds...)

	users, err := s.listRecipients(ctx, "get_user_recipients", store.RecipientUser)
	if err != nil {
		return nil, fmt.Errorf("list user recipients: %w", err)
	}
	recipients = append(recipients, users...)

	for i := range recipients {
		p, err := s.preferences(ctx, recipients[i].Type, recipients[i].ID)
		if err != nil {
			return nil, fmt.Errorf("preferences for %s %s: %w", recipients[i].Type, recipients[i].ID, err)
		}
		recipients[i].Preferences = p
	}
	return recipients, nil
}

func (s *Service) listRecipients(ctx context.Context, stmt, recipientType string) ([]dispatch.Recipient, error) {
	rows, err := s.pool.Query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []dispatch.Recipient
	for rows.Next() {
		var r dispatch.Recipient
		r.Type = recipientType
		if err := rows.Scan(&r.ID, &r.Address); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Service) preferences(ctx context.Context, recipientType, recipientID string) (filter.Preferences, error) {
	rows, err := s.pool.Query(ctx, "get_recipient_preferences", recipientType, recipientID)
	if err != nil {
		return filter.Preferences{}, err
	}
	defer rows.Close()

	raw := make(map[string][]string)
	for rows.Next() {
		var category, selection string
		if err := rows.Scan(&category, &selection); err != nil {
			return filter.Preferences{}, fmt.Errorf("scan preference: %w", err)
		}
		raw[category] = append(raw[category], selection)
	}
	if err := rows.Err(); err != nil {
		return filter.Preferences{}, err
	}

	return filter.Preferences{
		StationTypes: config.NormalizeSelections(config.CategoryStationType, raw[config.CategoryStationType]),
		Commodities:  config.NormalizeSelections(config.CategoryCommodity, raw[config.CategoryCommodity]),
		Leaders:      config.NormalizeSelections(config.CategoryLeader, raw[config.CategoryLeader]),
	}, nil
}
