// cmd/migrate — 运维用 schema 迁移工具。
//
// 守护进程自身用 journal.EnsureSchema 做幂等建表; 本工具走
// schema_version 版本化迁移, 用于生产库的受控变更。
package main

import (
	"context"
	"flag"

	"github.com/agentmesh/go-transcript/internal/config"
	"github.com/agentmesh/go-transcript/internal/database"
	"github.com/agentmesh/go-transcript/pkg/logger"
)

func main() {
	dir := flag.String("dir", "./migrations", "directory containing *.sql migration files")
	flag.Parse()

	cfg := config.Load()
	logger.Init(cfg.LogLevel)

	ctx := context.Background()
	pool, err := database.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("database init failed", logger.FieldError, err)
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, *dir); err != nil {
		logger.Fatal("migration failed", logger.FieldError, err)
	}
	logger.Info("migration complete", logger.FieldPath, *dir)
}
