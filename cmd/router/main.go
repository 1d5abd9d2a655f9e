package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/blobrouter/internal/router"
	"github.com/dmitrijs2005/blobrouter/internal/router/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := router.NewApp(ctx, cfg)

	if err != nil {
		log.Printf("%v", err)
		return
	}

	app.Run(ctx)

}
