package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/vaamb/gaia/internal/gaiaconfig"
)

// AppConfig is the process-wide configuration resolved from a `.env` file
// (if present) and `GAIA_*`/legacy environment variables, mirroring
// original_source/src/gaia/config/base.py's BaseConfig.
type AppConfig struct {
	EngineUID     string
	DataDir       string
	CacheDir      string
	LogDir        string
	LogLevel      string
	Virtualization bool

	UseDatabase           bool
	DatabaseURI           string
	CommunicateWithAggregator bool
	CommunicationURL     string
	SecretKey            string

	WatchdogAddr string
	BackupBucket        string
	BackupEndpoint      string
	BackupRegion        string
	BackupAccessKeyID   string
	BackupAccessKeySecret string

	ConfigWatcherPeriod  time.Duration
	SensorsLoopPeriod    time.Duration
	LightLoopPeriod      time.Duration
	ClimateLoopPeriod    time.Duration
	SensorsLoggingPeriod int
	HealthLoggingTime    string // "HHhMM", the daily cron fires off of this
}

// Load resolves the app config. dataDirFlag, if non-empty, overrides
// GAIA_DIR (CLI flag takes highest priority, matching the teacher's
// `-data-dir` override of TRADER_DATA_DIR). A `.env` file in the current
// directory is loaded first if present; its absence is not an error.
func Load(dataDirFlag string) (*AppConfig, error) {
	_ = godotenv.Load()

	dataDir := dataDirFlag
	if dataDir == "" {
		dataDir = os.Getenv("GAIA_DIR")
	}
	if dataDir == "" {
		dataDir = "/home/pi/gaia"
	}
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("engine: resolve data directory: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: failed to create data directory: %w", err)
	}

	cacheDir := getEnv("GAIA_CACHE_DIR", filepath.Join(absDataDir, ".cache"))
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: failed to create cache directory: %w", err)
	}
	logDir := getEnv("GAIA_LOG_DIR", filepath.Join(absDataDir, "logs"))
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: failed to create log directory: %w", err)
	}

	engineUID := os.Getenv("GAIA_UID")
	if engineUID == "" {
		engineUID, err = gaiaconfig.NewUID(8)
		if err != nil {
			return nil, fmt.Errorf("engine: failed to generate engine uid: %w", err)
		}
	}

	databaseURI := os.Getenv("GAIA_DATABASE_URI")
	communicationURL := os.Getenv("GAIA_COMMUNICATION_URL")

	cfg := &AppConfig{
		EngineUID:      engineUID,
		DataDir:        absDataDir,
		CacheDir:       cacheDir,
		LogDir:         logDir,
		LogLevel:       getEnv("GAIA_LOG_LEVEL", "info"),
		Virtualization: getEnvBool("GAIA_VIRTUALIZATION", false),

		UseDatabase:               databaseURI != "",
		DatabaseURI:               databaseURI,
		CommunicateWithAggregator: communicationURL != "",
		CommunicationURL:          communicationURL,
		SecretKey:                 os.Getenv("GAIA_SECRET_KEY"),

		WatchdogAddr:          getEnv("GAIA_WATCHDOG_ADDR", ":5555"),
		BackupBucket:          os.Getenv("GAIA_BACKUP_BUCKET"),
		BackupEndpoint:        os.Getenv("GAIA_BACKUP_ENDPOINT"),
		BackupRegion:          getEnv("GAIA_BACKUP_REGION", "us-east-1"),
		BackupAccessKeyID:     os.Getenv("GAIA_BACKUP_ACCESS_KEY_ID"),
		BackupAccessKeySecret: os.Getenv("GAIA_BACKUP_ACCESS_KEY_SECRET"),

		ConfigWatcherPeriod:  getEnvDuration("CONFIG_WATCHER_PERIOD", 250*time.Millisecond),
		SensorsLoopPeriod:    getEnvDuration("SENSORS_LOOP_PERIOD", 5*time.Second),
		LightLoopPeriod:      getEnvDuration("LIGHT_LOOP_PERIOD", 500*time.Millisecond),
		ClimateLoopPeriod:    getEnvDuration("CLIMATE_LOOP_PERIOD", 10*time.Second),
		SensorsLoggingPeriod: getEnvInt("SENSORS_LOGGING_PERIOD", 10),
		HealthLoggingTime:    getEnv("HEALTH_LOGGING_TIME", "00h00"),
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	seconds, err := strconv.ParseFloat(v, 64)
	if err != nil {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fallback
		}
		return d
	}
	return time.Duration(seconds * float64(time.Second))
}
