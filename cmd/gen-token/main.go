package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mmdatafocus/inventory_backend/utils"
)

// Ops tool: mint a bearer token for a store. Intended for staging and local
// testing; production tokens come from the identity service.
func main() {
	var (
		userId  = flag.Int("user", 0, "user id to embed in the token (required)")
		role    = flag.String("role", "manager", "role claim: manager or admin")
		storeId = flag.String("store", "", "store id the token is scoped to (required for non-admin)")
	)
	flag.Parse()

	if *userId <= 0 {
		fmt.Fprintln(os.Stderr, "a positive -user id is required")
		os.Exit(2)
	}
	if *role != "admin" && *storeId == "" {
		fmt.Fprintln(os.Stderr, "-store is required for non-admin tokens")
		os.Exit(2)
	}

	if os.Getenv("TOKEN_HOUR_LIFESPAN") == "" {
		os.Setenv("TOKEN_HOUR_LIFESPAN", "24")
	}

	token, err := utils.JwtGenerate(*userId, *role, *storeId)
	utils.ErrorPanic(err)
	fmt.Println(token)
}
