package config

import (
	"flag"
	"io"
	"strings"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/flagx"
)

var serverFlags = []string{"-a", "-w", "-d", "-s", "-t", "-o", "-l", "-u", "-p", "-b", "-g", "-e"}

// parseFlags populates Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   gRPC bind address (e.g., ":50051")
//	-w string   HTTP bind address (e.g., ":8080", empty disables HTTP)
//	-d string   PostgreSQL DSN or "memory"
//	-s string   JWT HMAC secret key
//	-t int      issued token validity, hours
//	-o string   comma separated CORS origins
//	-l string   log level
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//
// args are filtered with flagx.FilterArgs first so the -c/-config flag of
// the JSON loader does not collide with this set.
func parseFlags(args []string, config *Config) error {
	args = flagx.FilterArgs(args, serverFlags)

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "gRPC address and port")
	fs.StringVar(&config.EndpointAddrHTTP, "w", config.EndpointAddrHTTP, "HTTP address and port")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN or \"memory\"")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	tokenHours := fs.Int("t", int(config.AccessTokenValidityDuration.Hours()), "issued token validity (in hours)")
	origins := fs.String("o", strings.Join(config.CORSOrigins, ","), "allowed CORS origins")

	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "t":
			config.AccessTokenValidityDuration = time.Duration(*tokenHours) * time.Hour
		case "o":
			config.CORSOrigins = splitList(*origins)
		}
	})
	return nil
}
