package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" default:"mdr"`

	// Quell-Datenbanken liegen auf demselben Server, wenn nichts anderes gesetzt ist.
	// Der Datenbankname kommt aus der sources-Tabelle.
	SourceDBHost     string `envconfig:"SOURCE_DB_HOST"`
	SourceDBPort     int    `envconfig:"SOURCE_DB_PORT"`
	SourceDBUser     string `envconfig:"SOURCE_DB_USER"`
	SourceDBPassword string `envconfig:"SOURCE_DB_PASSWORD"`
	SourceDBSchema   string `envconfig:"SOURCE_DB_SCHEMA" default:"ad"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"4242"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	CronSchedule string `envconfig:"CRON_SCHEDULE" default:"0 2 * * 0"`

	// Linkage-Parameter
	LinkBatchSize        int    `envconfig:"LINK_BATCH_SIZE" default:"10000"`
	CascadeMaxIterations int    `envconfig:"CASCADE_MAX_ITERATIONS" default:"50"`
	MinSourceID          int    `envconfig:"MIN_SOURCE_ID" default:"100115"`
	MaxSourceID          int    `envconfig:"MAX_SOURCE_ID" default:"101999"`
	LinkedRegistryIDType int    `envconfig:"LINKED_REGISTRY_ID_TYPE" default:"11"`
	RulesFile            string `envconfig:"RULES_FILE"`

	// Optionaler Export von Laufberichten nach S3
	S3Key    string `envconfig:"S3_KEY"`
	S3Secret string `envconfig:"S3_SECRET"`
	S3URL    string `envconfig:"S3_URL"`
	S3Region string `envconfig:"S3_REGION" default:"eu-central-1"`
	S3Bucket string `envconfig:"S3_BUCKET"`
}

// DSN gibt den Data Source Name für die Core-Datenbank zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// SourceDSN baut den DSN für die Staging-Datenbank einer Quelle.
func (c *Config) SourceDSN(databaseName string) string {
	host, port, user, password := c.DBHost, c.DBPort, c.DBUser, c.DBPassword
	if c.SourceDBHost != "" {
		host = c.SourceDBHost
	}
	if c.SourceDBPort != 0 {
		port = c.SourceDBPort
	}
	if c.SourceDBUser != "" {
		user = c.SourceDBUser
	}
	if c.SourceDBPassword != "" {
		password = c.SourceDBPassword
	}
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		host, user, password, databaseName, port)
	if c.SourceDBSchema != "" {
		dsn += " search_path=" + c.SourceDBSchema
	}
	return dsn
}

// S3Enabled meldet, ob der Export nach S3 konfiguriert ist.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3URL != "" && c.S3Key != "" && c.S3Secret != ""
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
