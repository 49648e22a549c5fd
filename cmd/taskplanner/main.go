package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"taskplanner/internal/api"
	"taskplanner/internal/bot"
	"taskplanner/internal/config"
	"taskplanner/internal/repository"
	"taskplanner/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	sqlDB, err := db.DB()
	if err == nil {
		defer sqlDB.Close()
	}

	userRepo := repository.NewUserRepository(db)
	categoryRepo := repository.NewCategoryRepository(db)
	taskRepo := repository.NewTaskRepository(db)

	recurrenceSvc := service.NewRecurrenceService(taskRepo, cfg.Workspace, cfg.HorizonDays, cfg.Location)
	occurrenceSvc := service.NewOccurrenceService(taskRepo, recurrenceSvc)
	categorySvc := service.NewCategoryService(categoryRepo)
	taskSvc := service.NewTaskService(taskRepo, categoryRepo, recurrenceSvc)
	agendaSvc := service.NewAgendaService(taskSvc, categoryRepo, cfg.Location)

	if stats, err := recurrenceSvc.Refresh(ctx); err != nil {
		log.Printf("[warn] startup materialization: %v", err)
	} else {
		log.Printf("[info] startup materialization templates=%d created=%d skipped=%d", stats.Templates, stats.Created, stats.Skipped)
	}

	scheduler := service.NewSchedulerService(cfg.Location)
	if _, err := scheduler.ScheduleDaily("reconcile", cfg.ReconcileAt, func(ctx context.Context) error {
		_, err := recurrenceSvc.Refresh(ctx)
		return err
	}); err != nil {
		log.Fatalf("schedule reconcile: %v", err)
	}

	var wg sync.WaitGroup

	if cfg.TelegramToken != "" {
		telegramBot, err := bot.New(cfg.TelegramToken, userRepo, categorySvc, taskSvc, occurrenceSvc, agendaSvc, cfg.Location)
		if err != nil {
			log.Fatalf("bot: %v", err)
		}
		if _, err := scheduler.ScheduleInterval("reports", cfg.ReportInterval, telegramBot.SendDailyReports); err != nil {
			log.Fatalf("schedule reports: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := telegramBot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("[error] bot stopped: %v", err)
				stop()
			}
		}()
	}

	if cfg.HTTPAddr != "" {
		controller := api.NewController(userRepo, categorySvc, taskSvc, occurrenceSvc, recurrenceSvc)
		server := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           api.NewRouter(controller),
			ReadHeaderTimeout: 10 * time.Second,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("[info] api listening on %s", cfg.HTTPAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[error] api server: %v", err)
				stop()
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("[warn] api shutdown: %v", err)
			}
		}()
	}

	scheduler.Start()
	log.Printf("[info] planner started, horizon=%dd workspace=%s reconcile at %s", cfg.HorizonDays, cfg.Workspace, cfg.ReconcileAt)

	<-ctx.Done()
	scheduler.Stop()
	wg.Wait()
	log.Println("Shutdown complete.")
}
