package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/lumichat/lumichat/internal/clock"
	"github.com/lumichat/lumichat/internal/config"
	"github.com/lumichat/lumichat/internal/logger"
	"github.com/lumichat/lumichat/internal/migration"
	"github.com/lumichat/lumichat/internal/server"
	"github.com/lumichat/lumichat/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		clock.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
