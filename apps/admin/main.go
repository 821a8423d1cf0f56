package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/course"
	"github.com/trezcool/elimu/core/interchange"
	cachesvc "github.com/trezcool/elimu/services/cache"
	"github.com/trezcool/elimu/services/filestore"
	logsvc "github.com/trezcool/elimu/services/logger"
	"github.com/trezcool/elimu/storage/database"
	boiledrepos "github.com/trezcool/elimu/storage/database/sqlboiler"
	sqlxrepos "github.com/trezcool/elimu/storage/database/sqlx"
)

func main() {
	conf := core.Conf

	logger, err := logsvc.NewRollbarLogger(conf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setting up logger: %v\n", err)
		os.Exit(1)
	}
	logger.Enable(!conf.Debug)

	os.Exit(run(conf, logger))
}

func run(conf *core.Config, logger *logsvc.RollbarLogger) int {
	defer logger.Sync()

	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		logger.Error(fmt.Sprintf("opening database: %v", err), err)
		return 1
	}
	defer db.Close()

	// the nav cache is only worth busting when it is shared
	cache := cachesvc.NewMemoryCache()
	if conf.Cache.RedisAddr != "" {
		redisCache, client, err := cachesvc.NewRedisCache(context.Background(), conf)
		if err != nil {
			logger.Error(fmt.Sprintf("setting up cache: %v", err), err)
			return 1
		}
		defer func() { _ = client.Close() }()
		cache = redisCache
	}

	files, err := filestore.NewLocalStore(conf.Media.Root)
	if err != nil {
		logger.Error(fmt.Sprintf("setting up media storage: %v", err), err)
		return 1
	}

	txr := database.NewTransactor(db)
	courseRepo := sqlxrepos.NewCourseRepository(db)

	// start CLI
	cli := commandLine{
		db:       db.DB,
		fs:       afero.NewOsFs(),
		out:      os.Stdout,
		logger:   logger,
		usrRepo:  boiledrepos.NewUserRepository(db),
		courses:  course.NewService(courseRepo, txr, cache, conf.Cache.NavTTL, logger),
		importer: interchange.NewImporter(courseRepo, txr, files, logger),
		exporter: interchange.NewExporter(courseRepo, files, logger),
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		return 1
	}
	return 0
}
