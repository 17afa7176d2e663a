package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
)

//go:embed 0002_create_sessions.sql
var createSessionsSQL string

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			return execScript(ctx, db, createSessionsSQL)
		},
		func(ctx context.Context, db *bun.DB) error {
			return execScript(ctx, db, `
				DROP TABLE IF EXISTS answers;
				DROP TABLE IF EXISTS participants;
				DROP TABLE IF EXISTS quiz_sessions`)
		},
	)
}
