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

/*
Package main provides the CLI commands for managing the database schema in
the Railcore application.
*/

package main

import (
	"log"

	"github.com/railcorehq/railcore/config"
	"github.com/railcorehq/railcore/database"
	"github.com/spf13/cobra"
)

// migrateCommands creates the root command for migration-related operations.
func migrateCommands(_ *railcoreInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "start railcore migration",
	}

	cmd.AddCommand(migrateUpCommands())

	return cmd
}

// migrateUpCommands creates the command that applies the schema. Table
// creation is idempotent, so running it against an up-to-date database is a
// no-op.
func migrateUpCommands() *cobra.Command {
	cmd := &cobra.Command{
		Use: "up",
		Run: func(cmd *cobra.Command, args []string) {
			cnf, err := config.Fetch()
			if err != nil {
				log.Fatalf("Error fetching config: %v", err)
			}

			db, err := database.ConnectDB(cnf.DataSource.Dns)
			if err != nil {
				log.Fatalf("Error connecting to database: %v", err)
			}
			defer func() {
				_ = db.Close()
			}()

			if err := database.BootstrapTables(db); err != nil {
				log.Fatalf("Error applying schema: %v", err)
			}
			log.Println("Schema applied")
		},
	}
	return cmd
}
