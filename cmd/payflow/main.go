package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/migration"
	"github.com/smallbiznis/payflow/internal/observability"
	"github.com/smallbiznis/payflow/internal/server"
	"github.com/smallbiznis/payflow/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		observability.Module,
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
