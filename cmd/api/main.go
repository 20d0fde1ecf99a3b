package main

import (
	"os"

	_ "approvals/api/swagger" // swagger docs
	"approvals/cmd/api/commands"
)

// @title           Approvals API
// @version         1.0
// @description     Dual-approval authorization workflow for sensitive data access.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
