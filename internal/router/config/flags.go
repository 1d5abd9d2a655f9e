package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/blobrouter/internal/flagx"
)

// parseFlags populates selected router Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   PostgreSQL DSN for the ledger
//	-i int      poll interval, seconds
//	-l int      lease duration, seconds
//	-w int      upload timeout, seconds
//	-e string   source storage endpoint (e.g., "http://127.0.0.1:9000/")
//	-g string   source storage region
//	-u string   source storage access key
//	-p string   source storage secret key
//	-t string   SAS token issuer base URL
//	-s string   SAS token issuer HMAC secret
//	-a string   signature algorithm identifier
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes
//     using flagx.FilterArgs, avoiding collisions with other components.
//   - Duration flags are accepted as integers in seconds and then
//     converted to time.Duration values.
//   - Source container routing has no flag form; it comes from defaults
//     or the JSON file.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-i", "-l", "-w", "-e", "-g", "-u", "-p", "-t", "-s", "-a"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")

	pollInterval := fs.Int("i", int(config.PollInterval.Seconds()), "poll interval (in seconds)")
	leaseDuration := fs.Int("l", int(config.LeaseDuration.Seconds()), "lease duration (in seconds)")
	uploadTimeout := fs.Int("w", int(config.UploadTimeout.Seconds()), "upload timeout (in seconds)")

	fs.StringVar(&config.StorageEndpoint, "e", config.StorageEndpoint, "source storage endpoint")
	fs.StringVar(&config.StorageRegion, "g", config.StorageRegion, "source storage region")
	fs.StringVar(&config.StorageAccessKey, "u", config.StorageAccessKey, "source storage access key")
	fs.StringVar(&config.StorageSecretKey, "p", config.StorageSecretKey, "source storage secret key")
	fs.StringVar(&config.TokenIssuerURL, "t", config.TokenIssuerURL, "token issuer base URL")
	fs.StringVar(&config.TokenIssuerSecret, "s", config.TokenIssuerSecret, "token issuer secret")
	fs.StringVar(&config.SignatureAlgorithm, "a", config.SignatureAlgorithm, "signature algorithm")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.PollInterval = time.Duration(*pollInterval) * time.Second
	config.LeaseDuration = time.Duration(*leaseDuration) * time.Second
	config.UploadTimeout = time.Duration(*uploadTimeout) * time.Second
}
