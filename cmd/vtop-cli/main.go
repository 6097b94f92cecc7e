package main

import (
	"context"

	"vtopassist-backend/cmd/vtop-cli/commands"
	"vtopassist-backend/internal/components/telemetry"
)

func main() {
	telemetry.InitSlog(false)
	commands.ExecuteContext(context.Background())
}
