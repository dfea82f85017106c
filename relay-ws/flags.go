package relayws

import (
	"time"

	relaycli "github.com/socialjobs/job-relay/relay-cli"
	"github.com/urfave/cli/v2"
)

const (
	StoreSQL      = "sql"
	StoreDynamoDB = "dynamodb"
	StoreNone     = "none"
)

var WSOpts struct {
	Secret          string
	SecretName      string
	AllowedOrigins  cli.StringSlice
	ConnectionStore string
	SendQueue       int
	MaxMessageSize  int
	ShutdownGrace   time.Duration
}

var SecretFlag = cli.StringFlag{
	Name:        "ws-secret",
	Usage:       "shared secret clients present to authenticate",
	EnvVars:     []string{"WS_SECRET"},
	Destination: &WSOpts.Secret,
}
var SecretNameFlag = cli.StringFlag{
	Name:        "secret-name",
	Usage:       "Secrets Manager secret holding ws_secret and database_url; used when --ws-secret is empty",
	EnvVars:     []string{"SECRET_NAME"},
	Destination: &WSOpts.SecretName,
}
var AllowedOriginFlag = cli.StringSliceFlag{
	Name:        "allowed-origin",
	Usage:       "browser origin allowed to connect; repeatable, * allows any",
	Value:       cli.NewStringSlice("*"),
	EnvVars:     []string{"FRONTEND_URL"},
	Destination: &WSOpts.AllowedOrigins,
}
var ConnectionStoreFlag = cli.StringFlag{
	Name:        "connection-store",
	Usage:       "where connection records are mirrored: sql, dynamodb or none",
	Value:       StoreSQL,
	EnvVars:     []string{"CONNECTION_STORE"},
	Destination: &WSOpts.ConnectionStore,
}

var WSFlags = []cli.Flag{
	&SecretFlag,
	&SecretNameFlag,
	&AllowedOriginFlag,
	&ConnectionStoreFlag,
	relaycli.IntFlag("send-queue", "outbound frames buffered per connection", &WSOpts.SendQueue, 64),
	relaycli.IntFlag("max-message-size", "largest inbound frame in bytes", &WSOpts.MaxMessageSize, 64*1024),
	relaycli.DurationFlag("shutdown-grace", "time allowed for connections and writes to drain on shutdown", &WSOpts.ShutdownGrace, 10*time.Second),
}
