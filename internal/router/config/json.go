package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/blobrouter/internal/flagx"
	"github.com/dmitrijs2005/blobrouter/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON
// unmarshalling. It uses timex.Duration for interval fields, which allows
// parsing both string values such as "40s" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON
// configuration files. After unmarshalling, its fields are copied into
// the runtime Config struct which uses time.Duration.
type JsonConfig struct {
	DatabaseDSN        string               `json:"database_dsn"`
	PollInterval       timex.Duration       `json:"poll_interval"`
	LeaseDuration      timex.Duration       `json:"lease_duration"`
	UploadTimeout      timex.Duration       `json:"upload_timeout"`
	RejectedRetention  timex.Duration       `json:"rejected_retention"`
	StorageEndpoint    string               `json:"storage_endpoint"`
	StorageRegion      string               `json:"storage_region"`
	StorageAccessKey   string               `json:"storage_access_key"`
	StorageSecretKey   string               `json:"storage_secret_key"`
	CrimeEndpoint      string               `json:"crime_endpoint"`
	CrimeRegion        string               `json:"crime_region"`
	CrimeAccessKey     string               `json:"crime_access_key"`
	CrimeSecretKey     string               `json:"crime_secret_key"`
	CFTUploadEndpoint  string               `json:"cft_upload_endpoint"`
	PCQUploadEndpoint  string               `json:"pcq_upload_endpoint"`
	TokenIssuerURL     string               `json:"token_issuer_url"`
	TokenIssuerSecret  string               `json:"token_issuer_secret"`
	TokenRefreshMargin timex.Duration       `json:"token_refresh_margin"`
	SignatureAlgorithm string               `json:"signature_algorithm"`
	SourceContainers   []JsonSourceContainer `json:"source_containers"`
}

// JsonSourceContainer mirrors SourceContainer for JSON files.
type JsonSourceContainer struct {
	Name            string `json:"name"`
	Enabled         bool   `json:"enabled"`
	TargetAccount   string `json:"target_account"`
	TargetContainer string `json:"target_container"`
	PayloadOnly     bool   `json:"payload_only"`
	PublicKeyFile   string `json:"public_key_file"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The file path is taken from the -c or -config command-line flags; if
// neither is set, no JSON file is loaded. If the file cannot be read or
// contains invalid JSON, the function panics: a broken config file is a
// deployment bug, not a runtime condition.
func parseJson(config *Config) {

	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	config.DatabaseDSN = c.DatabaseDSN
	config.PollInterval = time.Duration(c.PollInterval.Duration)
	config.LeaseDuration = time.Duration(c.LeaseDuration.Duration)
	config.UploadTimeout = time.Duration(c.UploadTimeout.Duration)
	config.RejectedRetention = time.Duration(c.RejectedRetention.Duration)
	config.StorageEndpoint = c.StorageEndpoint
	config.StorageRegion = c.StorageRegion
	config.StorageAccessKey = c.StorageAccessKey
	config.StorageSecretKey = c.StorageSecretKey
	config.CrimeEndpoint = c.CrimeEndpoint
	config.CrimeRegion = c.CrimeRegion
	config.CrimeAccessKey = c.CrimeAccessKey
	config.CrimeSecretKey = c.CrimeSecretKey
	config.CFTUploadEndpoint = c.CFTUploadEndpoint
	config.PCQUploadEndpoint = c.PCQUploadEndpoint
	config.TokenIssuerURL = c.TokenIssuerURL
	config.TokenIssuerSecret = c.TokenIssuerSecret
	config.TokenRefreshMargin = time.Duration(c.TokenRefreshMargin.Duration)
	config.SignatureAlgorithm = c.SignatureAlgorithm

	if len(c.SourceContainers) > 0 {
		containers := make([]SourceContainer, 0, len(c.SourceContainers))
		for _, sc := range c.SourceContainers {
			containers = append(containers, SourceContainer{
				Name:            sc.Name,
				Enabled:         sc.Enabled,
				TargetAccount:   TargetAccount(sc.TargetAccount),
				TargetContainer: sc.TargetContainer,
				PayloadOnly:     sc.PayloadOnly,
				PublicKeyFile:   sc.PublicKeyFile,
			})
		}
		config.SourceContainers = containers
	}
}
