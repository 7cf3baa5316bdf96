// Package migrate implements the command that runs database migrations and
// exits.
package migrate

import (
	"github.com/spf13/cobra"

	"github.com/examtrack/examtrack-go/internal/conf"
	"github.com/examtrack/examtrack-go/internal/datastore"
	"github.com/examtrack/examtrack-go/internal/errors"
	"github.com/examtrack/examtrack-go/internal/logging"
)

// Command creates the migrate command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(settings)
		},
	}
}

func run(settings *conf.Settings) error {
	log := logging.Structured()

	ds := datastore.New(settings)
	if ds == nil {
		return errors.Newf("no database backend enabled").
			Component("migrate").
			Category(errors.CategoryConfiguration).
			Build()
	}

	// Open runs auto migration as part of connection setup
	if err := ds.Open(); err != nil {
		return err
	}
	if err := ds.Close(); err != nil {
		return err
	}

	log.Info("database migration completed")
	return nil
}
