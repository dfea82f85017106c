package relaysql

import (
	"time"

	relaycli "github.com/socialjobs/job-relay/relay-cli"
	"github.com/urfave/cli/v2"
)

var SQLOpts struct {
	DatabaseURL     string
	Timeout         time.Duration
	ConnectionTable string
	MaxOpenConns    int
	CreateTable     bool
}

var DatabaseURLFlag = relaycli.StringFlag("database-url", "Postgres connection string of the job backend's database", &SQLOpts.DatabaseURL)
var TimeoutFlag = relaycli.DurationFlag("db-timeout", "upper bound on a single database call", &SQLOpts.Timeout, 5*time.Second)
var ConnectionTableFlag = relaycli.StringFlag("connection-table", "table holding relay connection records", &SQLOpts.ConnectionTable, "relay_connection")
var MaxOpenConnsFlag = relaycli.IntFlag("db-max-open-conns", "maximum open database connections", &SQLOpts.MaxOpenConns, 10)

var CreateTableFlag = relaycli.BoolFlag("create-connection-table", "create the connection table at startup if it is missing", &SQLOpts.CreateTable)

var SQLFlags = []cli.Flag{
	DatabaseURLFlag,
	TimeoutFlag,
	ConnectionTableFlag,
	MaxOpenConnsFlag,
	CreateTableFlag,
}
