package main

import (
	"time"

	"queue-sync/src/booking"
	"queue-sync/src/cache"
	"queue-sync/src/config"
	"queue-sync/src/connection"
	"queue-sync/src/interfaces"
	"queue-sync/src/logger"
	"queue-sync/src/metrics"
	"queue-sync/src/models"
	"queue-sync/src/network"
	"queue-sync/src/server"
	"queue-sync/src/session"
	"queue-sync/src/storage"
	"queue-sync/src/utils"
)

// -----------------------------------------------------------------------------

// app holds every long-lived component so shutdown can run in reverse order.
type app struct {
	logger  *logger.Logger
	journal interfaces.IReservationJournal
	cache   interfaces.IPreviewCache
	metrics *metrics.Metrics
	session *session.BookingSession
	api     interfaces.IDataExchanger
	health  *server.HealthServer
	unwatch func()
}

// -----------------------------------------------------------------------------

func setupApp(conf *config.Config, appLogger *logger.Logger) (*app, error) {
	a := &app{logger: appLogger, metrics: metrics.New()}

	journal, err := setupDatabase(conf.MConfig, appLogger)
	if err != nil {
		return nil, err
	}
	a.journal = journal

	previewCache, err := cache.NewPreviewCache(conf.MConfig, appLogger.Named("cache"))
	if err != nil {
		appLogger.Warning("Preview cache unavailable, falling back to memory: %v", err)
		previewCache = cache.NewMemoryPreviewCache(nil, time.Duration(conf.Cache.PreviewTTLSeconds)*time.Second)
	}
	a.cache = previewCache

	networkManager := network.NewAsyncNetworkManager(conf.MConfig, appLogger.Named("network"))
	api := network.NewBookingAPI(networkManager, appLogger.Named("booking-api"))
	dialer := connection.NewWebSocketDialer(conf.MConfig, appLogger.Named("dialer"))

	a.session = session.NewBookingSession(conf.Backend.BusinessID, session.Deps{
		Dialer:       dialer,
		API:          api,
		Cache:        previewCache,
		Journal:      journal,
		Metrics:      a.metrics,
		Reconnect:    connection.SettingsFromConfig(conf.MConfig),
		Limiter:      booking.NewRefreshLimiter(conf.Refresh.PerMinute, conf.Refresh.Burst),
		Location:     conf.Location(),
		EventLogSize: utils.DefaultEventLogSize,
	}, appLogger.Named("session"))

	apiServer := server.NewAPIServer(conf.MConfig, a.session, a.metrics, appLogger.Named("api"))
	a.api = apiServer
	a.unwatch = a.session.Watch(apiServer.Broadcast)

	if conf.GrpcPort > 0 {
		a.health = server.NewHealthServer(conf.MConfig, appLogger.Named("grpc-health"))
		a.session.OnTransition(a.health.ObserveTransition)
	}

	return a, nil
}

// -----------------------------------------------------------------------------

func setupDatabase(cfg *models.MConfig, appLogger *logger.Logger) (interfaces.IReservationJournal, error) {
	journal, err := storage.NewReservationJournal(cfg, appLogger.Named("journal"))
	if err != nil {
		appLogger.Error("Failed to open reservation journal: %v", err)
		return nil, err
	}
	return journal, nil
}

// -----------------------------------------------------------------------------

func (a *app) preselect(date string, services []string) {
	patch := models.MSelectionPatch{ServiceIDs: services}
	if date != "" {
		patch.Date = &date
	}
	a.session.SetSelection(patch)
}

// -----------------------------------------------------------------------------

func (a *app) close() {
	if a.unwatch != nil {
		a.unwatch()
	}
	if a.api != nil {
		if err := a.api.Stop(); err != nil {
			a.logger.Warning("API shutdown: %v", err)
		}
	}
	if a.health != nil {
		a.health.Stop()
	}
	if a.session != nil {
		a.session.Close()
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Warning("Journal close: %v", err)
		}
	}
}
