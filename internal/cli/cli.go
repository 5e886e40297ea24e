package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/eclipse-tractusx/portal-backend-sub020/internal/checklist"
	internal_http "github.com/eclipse-tractusx/portal-backend-sub020/internal/http"
	"github.com/eclipse-tractusx/portal-backend-sub020/internal/log"
	internal_storage "github.com/eclipse-tractusx/portal-backend-sub020/internal/storage"
	"github.com/eclipse-tractusx/portal-backend-sub020/pkg/service"
)

func SetupCLI(rootCmd *cobra.Command) {
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the process worker poll loop",
		Run: func(cmd *cobra.Command, args []string) {
			dbConnStr, err := cmd.Flags().GetString("db")
			if err != nil {
				log.GetLogger().Errorf("Error retrieving db flag: %v", err)
				os.Exit(1)
			}
			scheduleExpr, err := cmd.Flags().GetString("schedule")
			if err != nil {
				log.GetLogger().Errorf("Error retrieving schedule flag: %v", err)
				os.Exit(1)
			}
			schedule, err := cron.ParseStandard(scheduleExpr)
			if err != nil {
				log.GetLogger().Errorf("Invalid schedule %q: %v", scheduleExpr, err)
				os.Exit(1)
			}
			store := initStore(dbConnStr)
			defer store.Close()
			runWorker(store, schedule)
		},
	}
	workerCmd.Flags().String("schedule", "@every 30s", "poll schedule (cron expression or @every duration)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the onboarding HTTP server",
		Run: func(cmd *cobra.Command, args []string) {
			dbConnStr, err := cmd.Flags().GetString("db")
			if err != nil {
				log.GetLogger().Errorf("Error retrieving db flag: %v", err)
				os.Exit(1)
			}
			port, err := cmd.Flags().GetString("port")
			if err != nil {
				log.GetLogger().Errorf("Error retrieving port flag: %v", err)
				os.Exit(1)
			}
			store := initStore(dbConnStr)
			defer store.Close()
			registry := service.NewRegistry(service.DefaultChecklistDefinitions(checklist.NewHandlers()))
			if err := internal_http.StartServer(port, store, registry); err != nil {
				log.GetLogger().Errorf("Server failed: %v", err)
				os.Exit(1)
			}
		},
	}
	serveCmd.Flags().String("port", "8080", "HTTP port")

	seedCmd := &cobra.Command{
		Use:   "seed [applicationID]",
		Short: "Seed the onboarding checklist for a submitted application",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			dbConnStr, err := cmd.Flags().GetString("db")
			if err != nil {
				log.GetLogger().Errorf("Error retrieving db flag: %v", err)
				os.Exit(1)
			}
			applicationID, err := uuid.Parse(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: invalid application id %q: %v\n", args[0], err)
				os.Exit(1)
			}
			store := initStore(dbConnStr)
			defer store.Close()
			svc := service.NewChecklistService(store, log.GetLogger())
			entries, err := svc.CreateInitialChecklist(applicationID)
			if err != nil {
				log.GetLogger().Errorf("Failed to seed checklist: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to seed checklist: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "Checklist for application %s:\n", applicationID)
			for _, e := range entries {
				fmt.Fprintf(os.Stdout, "- %s: %s\n", e.Type, e.Status)
			}
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List company applications",
		Run: func(cmd *cobra.Command, args []string) {
			dbConnStr, err := cmd.Flags().GetString("db")
			if err != nil {
				log.GetLogger().Errorf("Error retrieving db flag: %v", err)
				os.Exit(1)
			}
			store := initStore(dbConnStr)
			defer store.Close()
			applications, err := store.ListApplications()
			if err != nil {
				log.GetLogger().Errorf("Failed to list applications: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to list applications: %v\n", err)
				os.Exit(1)
			}
			if len(applications) == 0 {
				fmt.Fprintf(os.Stdout, "No applications found.\n")
				return
			}
			for _, a := range applications {
				fmt.Fprintf(os.Stdout, "- ID: %s, Company: %s, Status: %s, Created: %s\n",
					a.ID, a.CompanyID, a.Status, a.CreatedAt.Format(time.RFC3339))
			}
		},
	}

	rootCmd.AddCommand(workerCmd, serveCmd, seedCmd, listCmd)
}

// runWorker polls on the given schedule until interrupted. A fatal error
// from the execution service aborts the worker with a non-zero exit code
// so a supervisor restarts it.
func runWorker(store *internal_storage.PostgresStore, schedule cron.Schedule) {
	logger := log.GetLogger()
	registry := service.NewRegistry(service.DefaultChecklistDefinitions(checklist.NewHandlers()))
	executor := service.NewChecklistExecutor(registry, store, logger)
	svc := service.NewProcessExecutionService(store, logger, executor)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Infof("Worker started")
	for {
		if err := svc.ExecuteCycle(ctx); err != nil {
			if service.IsFatal(err) {
				logger.Errorf("Fatal error, aborting worker: %v", err)
				os.Exit(1)
			}
			logger.Errorf("Poll cycle failed: %v", err)
		}
		next := schedule.Next(time.Now())
		select {
		case <-ctx.Done():
			logger.Infof("Worker shutting down")
			return
		case <-time.After(time.Until(next)):
		}
	}
}

func initStore(dbConnStr string) *internal_storage.PostgresStore {
	store, err := internal_storage.NewPostgresStore(dbConnStr)
	if err != nil {
		log.GetLogger().Errorf("Failed to initialize store: %v", err)
		os.Exit(1)
	}
	return store
}
