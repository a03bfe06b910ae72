/*
Copyright 2024 Railcore Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/railcorehq/railcore/api"
	"github.com/railcorehq/railcore/config"
	trace "github.com/railcorehq/railcore/internal/traces"
)

func initializeRouter(b *railcoreInstance) *gin.Engine {
	return api.NewAPI(b.railcore).Router()
}

func initializeTracing(ctx context.Context) (func(context.Context) error, error) {
	shutdown, err := trace.SetupOTelSDK(ctx, "RAILCORE")
	if err != nil {
		return nil, fmt.Errorf("error setting up OTel SDK: %v", err)
	}
	return shutdown, nil
}

func startServer(router *gin.Engine, cfg config.ServerConfig) error {
	log.Printf("Starting server on http://localhost:%s", cfg.Port)
	return router.Run(":" + cfg.Port)
}

// serverCommands defines the "start" command that serves the HTTP API. The
// SLA sweeper runs alongside the API so a deployment without dedicated
// workers still expires breached settlements.
func serverCommands(b *railcoreInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start railcore server",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			shutdown, err := initializeTracing(ctx)
			if err != nil {
				log.Printf("tracing disabled: %v", err)
			} else {
				defer func() {
					if err := shutdown(ctx); err != nil {
						log.Printf("Error during shutdown: %v", err)
					}
				}()
			}

			router := initializeRouter(b)

			go b.railcore.StartSLASweeper(ctx)

			if err := startServer(router, b.cnf.Server); err != nil {
				log.Fatal(err)
			}
		},
	}

	return cmd
}
