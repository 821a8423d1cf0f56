package main

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	_ "net/http/pprof"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	echoapi "github.com/trezcool/elimu/apps/api/echo"
	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/access"
	"github.com/trezcool/elimu/core/course"
	"github.com/trezcool/elimu/core/enrollment"
	"github.com/trezcool/elimu/core/importjob"
	"github.com/trezcool/elimu/core/interchange"
	"github.com/trezcool/elimu/core/progress"
	"github.com/trezcool/elimu/core/user"
	cachesvc "github.com/trezcool/elimu/services/cache"
	emailsvc "github.com/trezcool/elimu/services/email"
	"github.com/trezcool/elimu/services/filestore"
	logsvc "github.com/trezcool/elimu/services/logger"
	"github.com/trezcool/elimu/storage/database"
	boiledrepos "github.com/trezcool/elimu/storage/database/sqlboiler"
	sqlxrepos "github.com/trezcool/elimu/storage/database/sqlx"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.Conf

	// set up logger
	logger, err := logsvc.NewRollbarLogger(conf)
	if err != nil {
		panic(fmt.Sprintf("setting up logger: %v", err))
	}
	logger.Enable(!conf.Debug)
	defer logger.Sync()

	// set up DB
	db, err := setUpDB(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = db.Close(); err != nil {
			logger.Error(fmt.Sprintf("closing database: %v", err), err)
		}
	}()
	txr := database.NewTransactor(db)

	// set up cache
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cache core.Cache
	if conf.Cache.RedisAddr != "" {
		redisCache, client, err := cachesvc.NewRedisCache(ctx, conf)
		if err != nil {
			logger.Fatal(fmt.Sprintf("setting up cache: %v", err), err)
		}
		defer func() { _ = client.Close() }()
		cache = redisCache
	} else {
		logger.Warn("REDIS_ADDR not set, using the in-process cache")
		cache = cachesvc.NewMemoryCache()
	}

	// set up media storage
	files, err := filestore.NewLocalStore(conf.Media.Root)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up media storage: %v", err), err)
	}

	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(logger)
	}

	// set up services
	courseRepo := sqlxrepos.NewCourseRepository(db)
	usrSvc := user.NewService(boiledrepos.NewUserRepository(db), mailSvc)
	courseSvc := course.NewService(courseRepo, txr, cache, conf.Cache.NavTTL, logger)
	enrollmentSvc := enrollment.NewService(
		sqlxrepos.NewEnrollmentRepository(db),
		sqlxrepos.NewGroupRepository(db),
		mailSvc,
		logger,
	)
	progressSvc := progress.NewService(sqlxrepos.NewProgressRepository(db), courseRepo, courseSvc, txr, logger)
	importSvc := importjob.NewService(importjob.Deps{
		Repo:     sqlxrepos.NewImportTaskRepository(db),
		Importer: interchange.NewImporter(courseRepo, txr, files, logger),
		Files:    files,
		Cache:    cache,
		Users:    usrSvc,
		Mailer:   mailSvc,
		Logger:   logger,
	}, importjob.NewConfig(conf))

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	course.InitValidators(validate, translator)

	if err := core.ParseEmailTemplates(); err != nil {
		logger.Error(fmt.Sprintf("%+v", err), err)
	}

	user.LoadCommonPasswords(logger)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.
	// /metrics - Prometheus metrics of the default registry.

	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	http.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start Import Workers

	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		if err := importSvc.Run(ctx); err != nil {
			logger.Error(fmt.Sprintf("import workers stopped: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(echoapi.ServerDeps{
		Conf:          conf,
		Logger:        logger,
		UserSvc:       usrSvc,
		CourseSvc:     courseSvc,
		AccessSvc:     access.NewService(courseSvc, enrollmentSvc, logger),
		EnrollmentSvc: enrollmentSvc,
		ProgressSvc:   progressSvc,
		ImportSvc:     importSvc,
		Exporter:      interchange.NewExporter(courseRepo, files, logger),
		Validate:      validate,
		Translator:    translator,
	})

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Error(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		sctx, scancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer scancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(sctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}

	// stop the workers; a running import is rolled back with its transaction
	cancel()
	<-workersDone
}

func setUpDB(conf *core.Config) (*sqlx.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db, "up"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
