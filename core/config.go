package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var Conf *Config

func init() {
	Conf = NewConfig()
}

type (
	serverConfig struct {
		Host                      string
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	databaseConfig struct {
		Engine        string
		Host          string
		Port          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		Name          string
		DisableTLS    bool
	}

	cacheConfig struct {
		RedisAddr       string
		RedisPassword   string
		RedisDB         int
		NavTTL          time.Duration
		ImportStatusTTL time.Duration
	}

	importConfig struct {
		Workers         int
		PollInterval    time.Duration
		MaxArchiveBytes int64
	}

	mediaConfig struct {
		Root string
		URL  string
	}

	Config struct {
		Debug            bool
		Env              string
		Build            string
		TestMode         bool
		AppName          string
		SecretKey        string
		WorkDir          string
		FrontendBaseURL  string
		DefaultFromEmail mail.Address

		PasswordResetTimeout time.Duration
		SendgridApiKey   string
		RollbarToken     string
		LanguageCode     string

		Server   serverConfig
		Database databaseConfig
		Cache    cacheConfig
		Import   importConfig
		Media    mediaConfig
	}
)

func (c databaseConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// NewConfig reads the configuration for the current ENV (DEV by default).
// Values come from defaults, then `config/.env.<env>` if present, then `<ENV>_*` environment variables.
func NewConfig() *Config {
	conf := viper.New()

	// defaults
	conf.SetTypeByDefaultValue(true)
	conf.SetDefault("debug", true)
	conf.SetDefault("build", "dev")
	conf.SetDefault("testMode", false)
	conf.SetDefault("appName", "Elimu")
	conf.SetDefault("secretKey", "k3h1-3wp)fb*x+1e=du&uoqk7(h!a)#*c2(#yg4h^$cegm2mzz")
	conf.SetDefault("frontendBaseURL", "http://localhost:8080")
	conf.SetDefault("defaultFromEmail", "noreply@localhost")
	conf.SetDefault("defaultFromName", "Elimu")
	conf.SetDefault("sendgridApiKey", "")
	conf.SetDefault("rollbarToken", "")
	conf.SetDefault("languageCode", "en")
	conf.SetDefault("passwordResetTimeout", 3*24*time.Hour)

	conf.SetDefault("server.host", "0.0.0.0:8000")
	conf.SetDefault("server.debugHost", "0.0.0.0:4000")
	conf.SetDefault("server.shutdownTimeout", 5*time.Second)
	conf.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)
	conf.SetDefault("server.jwtRefreshExpirationDelta", 4*time.Hour)

	conf.SetDefault("database.engine", "postgres")
	conf.SetDefault("database.host", "localhost")
	conf.SetDefault("database.port", "5432")
	conf.SetDefault("database.user", "elimu")
	conf.SetDefault("database.password", "elimu")
	conf.SetDefault("database.adminUser", "postgres")
	conf.SetDefault("database.adminPassword", "postgres")
	conf.SetDefault("database.name", "elimu")
	conf.SetDefault("database.disableTLS", true)

	conf.SetDefault("cache.redisAddr", "")
	conf.SetDefault("cache.redisPassword", "")
	conf.SetDefault("cache.redisDB", 0)
	conf.SetDefault("cache.navTTL", 24*time.Hour)
	conf.SetDefault("cache.importStatusTTL", 24*time.Hour)

	conf.SetDefault("import.workers", 2)
	conf.SetDefault("import.pollInterval", time.Second)
	conf.SetDefault("import.maxArchiveBytes", int64(512<<20))

	conf.SetDefault("media.root", "media")
	conf.SetDefault("media.url", "/media/")

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		conf.SetDefault("testMode", true)
	}
	conf.SetEnvPrefix(env)
	conf.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	workDir := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(workDir, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	testMode := conf.GetBool("testMode")
	navTTL := conf.GetDuration("cache.navTTL")
	if testMode {
		navTTL = 0 // never cache the navigation while testing
	}

	mediaRoot := conf.GetString("media.root")
	if !filepath.IsAbs(mediaRoot) {
		mediaRoot = filepath.Join(workDir, mediaRoot)
	}

	return &Config{
		Debug:           conf.GetBool("debug"),
		Env:             env,
		Build:           conf.GetString("build"),
		TestMode:        testMode,
		AppName:         conf.GetString("appName"),
		SecretKey:       conf.GetString("secretKey"),
		WorkDir:         workDir,
		FrontendBaseURL: conf.GetString("frontendBaseURL"),
		DefaultFromEmail: mail.Address{
			Name:    conf.GetString("defaultFromName"),
			Address: conf.GetString("defaultFromEmail"),
		},
		PasswordResetTimeout: conf.GetDuration("passwordResetTimeout"),
		SendgridApiKey:       conf.GetString("sendgridApiKey"),
		RollbarToken:         conf.GetString("rollbarToken"),
		LanguageCode:         conf.GetString("languageCode"),
		Server: serverConfig{
			Host:                      conf.GetString("server.host"),
			DebugHost:                 conf.GetString("server.debugHost"),
			ShutdownTimeout:           conf.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta:        conf.GetDuration("server.jwtExpirationDelta"),
			JWTRefreshExpirationDelta: conf.GetDuration("server.jwtRefreshExpirationDelta"),
		},
		Database: databaseConfig{
			Engine:        conf.GetString("database.engine"),
			Host:          conf.GetString("database.host"),
			Port:          conf.GetString("database.port"),
			User:          conf.GetString("database.user"),
			Password:      conf.GetString("database.password"),
			AdminUser:     conf.GetString("database.adminUser"),
			AdminPassword: conf.GetString("database.adminPassword"),
			Name:          conf.GetString("database.name"),
			DisableTLS:    conf.GetBool("database.disableTLS"),
		},
		Cache: cacheConfig{
			RedisAddr:       conf.GetString("cache.redisAddr"),
			RedisPassword:   conf.GetString("cache.redisPassword"),
			RedisDB:         conf.GetInt("cache.redisDB"),
			NavTTL:          navTTL,
			ImportStatusTTL: conf.GetDuration("cache.importStatusTTL"),
		},
		Import: importConfig{
			Workers:         conf.GetInt("import.workers"),
			PollInterval:    conf.GetDuration("import.pollInterval"),
			MaxArchiveBytes: conf.GetInt64("import.maxArchiveBytes"),
		},
		Media: mediaConfig{
			Root: mediaRoot,
			URL:  conf.GetString("media.url"),
		},
	}
}
