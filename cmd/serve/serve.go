// Package serve implements the command that runs the HTTP and push service.
package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/examtrack/examtrack-go/internal/access"
	"github.com/examtrack/examtrack-go/internal/api"
	"github.com/examtrack/examtrack-go/internal/api/auth"
	"github.com/examtrack/examtrack-go/internal/conf"
	"github.com/examtrack/examtrack-go/internal/datastore"
	"github.com/examtrack/examtrack-go/internal/errors"
	"github.com/examtrack/examtrack-go/internal/incident"
	"github.com/examtrack/examtrack-go/internal/logging"
	"github.com/examtrack/examtrack-go/internal/notification"
	"github.com/examtrack/examtrack-go/internal/sheet"
)

const shutdownTimeout = 10 * time.Second

// Command creates the serve command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ExamTrack service",
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
			Component("serve").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := ds.Open(); err != nil {
		return err
	}
	defer func() {
		if err := ds.Close(); err != nil {
			log.Error("failed to close datastore", "error", err)
		}
	}()

	notification.Initialize(ds, &notification.ServiceConfig{
		Debug:              settings.Notification.Debug,
		MaxNotifications:   settings.Notification.MaxStored,
		CleanupInterval:    settings.Notification.CleanupInterval,
		RateLimitWindow:    settings.Notification.RateLimitWindow,
		RateLimitMaxEvents: settings.Notification.RateLimitMaxEvents,
		ChannelBuffer:      settings.Push.ChannelBuffer,
	})
	notifier := notification.GetService()
	defer notifier.Stop()

	// a teacher's administering admin comes from their stored grant; without
	// one the teacher's events stay personal
	notifier.SetAdminResolver(func(teacherID string) (string, error) {
		grant, gerr := ds.GetAccessGrant(teacherID)
		if gerr != nil {
			return "", gerr
		}
		if grant.GrantedBy == "" {
			return "", errors.Newf("teacher has no administering admin on record").
				Component("serve").
				Category(errors.CategoryNotFound).
				Context("teacher_id", teacherID).
				Build()
		}
		return grant.GrantedBy, nil
	})

	tracker := incident.NewTracker(ds, notifier)
	ledger := sheet.NewLedger(ds, tracker, settings)
	gate := access.NewGate(ds)
	verifier := auth.NewJWTVerifier(settings.Security.JWTSecret, settings.Security.TokenExpiry)

	server := api.New(settings, ds, ledger, tracker, gate, notifier, verifier)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info("shutdown signal received", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return err
	}
	return nil
}
