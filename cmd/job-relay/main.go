package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	relaycli "github.com/socialjobs/job-relay/relay-cli"
	relayddb "github.com/socialjobs/job-relay/relay-ddb"
	relayrest "github.com/socialjobs/job-relay/relay-rest"
	relaysecret "github.com/socialjobs/job-relay/relay-secret"
	relaysql "github.com/socialjobs/job-relay/relay-sql"
	relayws "github.com/socialjobs/job-relay/relay-ws"
	"github.com/socialjobs/job-relay/relay-ws/connectiondao"
	"github.com/socialjobs/job-relay/relay-ws/jobdao"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var service = relaycli.NewService("job-relay")

func main() {
	var flags []cli.Flag
	flags = append(flags, relaycli.CommonFlags...)
	flags = append(flags, relaycli.PortFlag(3000))
	flags = append(flags, relayws.WSFlags...)
	flags = append(flags, relaysql.SQLFlags...)
	flags = append(flags, relayddb.DDBFlags...)

	app := relaycli.App(service, action, flags...)
	err := app.Run(os.Args)
	if err != nil {
		log.Fatalln(err)
	}
}

func action(c *cli.Context) error {
	logger := relaycli.Logger(service)

	switch relayws.WSOpts.ConnectionStore {
	case relayws.StoreSQL, relayws.StoreDynamoDB, relayws.StoreNone:
	default:
		return fmt.Errorf("invalid connection store %q", relayws.WSOpts.ConnectionStore)
	}

	var sess *session.Session
	awsSession := func() (*session.Session, error) {
		if sess != nil {
			return sess, nil
		}
		s, err := session.NewSession(aws.NewConfig())
		if err != nil {
			return nil, fmt.Errorf("unable to create aws session: %w", err)
		}
		sess = s
		return sess, nil
	}

	secret, databaseURL := relayws.WSOpts.Secret, relaysql.SQLOpts.DatabaseURL
	if secret == "" && relayws.WSOpts.SecretName != "" {
		s, err := awsSession()
		if err != nil {
			return err
		}
		secrets, err := relaysecret.LoadRelaySecrets(s, relayws.WSOpts.SecretName)
		if err != nil {
			return err
		}
		secret = secrets.WSSecret
		if databaseURL == "" {
			databaseURL = secrets.DatabaseURL
		}
	}
	if secret == "" {
		return fmt.Errorf("no websocket secret configured; set --ws-secret or --secret-name")
	}

	db, err := relaysql.Open(databaseURL, relaysql.SQLOpts.MaxOpenConns)
	if err != nil {
		// the relay still serves sockets and notifications without a database
		logger.Warn().Err(err).Msg("database unavailable; job snapshots and sql bookkeeping disabled")
		db = nil
	}
	defer func() {
		if err := relaysql.Close(db); err != nil {
			logger.Warn().Err(err).Msg("failed to close database")
		}
	}()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := connectionStore(ctx, logger, db, awsSession)
	if err != nil {
		return err
	}

	var jobs relayws.JobReader
	if db != nil {
		jobs = jobdao.New(db, jobdao.DefaultTables, relaysql.SQLOpts.Timeout)
	}

	var metrics relaycli.Metrics
	if relaycli.CommonOpts.CloudWatch {
		s, err := awsSession()
		if err != nil {
			return err
		}
		metrics = relaycli.NewMetrics(service, cloudwatch.New(s))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	server := relayws.New(relayws.Config{
		Secret:         secret,
		AllowedOrigins: relayws.WSOpts.AllowedOrigins.Value(),
		Store:          store,
		Jobs:           jobs,
		Logger:         logger,
		Prometheus:     registry,
		CloudWatch:     metrics,
		SendQueue:      relayws.WSOpts.SendQueue,
		MaxMessageSize: int64(relayws.WSOpts.MaxMessageSize),
	})

	grace := relayws.WSOpts.ShutdownGrace
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return relayrest.Webserver(ctx, logger, relaycli.CommonOpts.Port, server.Routes(), grace)
	})
	if metrics.Enabled() {
		group.Go(func() error {
			reportConnections(ctx, logger, metrics, server.Registry())
			return nil
		})
	}
	err = group.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		logger.Warn().Err(serr).Msg("shutdown did not complete cleanly")
	}
	logger.Info().Msg("relay stopped")
	return err
}

func connectionStore(ctx context.Context, logger zerolog.Logger, db *gorm.DB, awsSession func() (*session.Session, error)) (connectiondao.Store, error) {
	if relaycli.CommonOpts.Dry {
		logger.Info().Msg("dry run; connection records are not persisted")
		return connectiondao.Nop{}, nil
	}

	switch relayws.WSOpts.ConnectionStore {
	case relayws.StoreDynamoDB:
		s, err := awsSession()
		if err != nil {
			return nil, err
		}
		dao := connectiondao.Build(relayddb.DynamoDBAPI(s), relaycli.CommonOpts.Env)
		logger.Info().Str("table", connectiondao.TableName(relaycli.CommonOpts.Env)).Msg("mirroring connections to dynamodb")
		return dao, nil

	case relayws.StoreSQL:
		if db == nil {
			return connectiondao.Nop{}, nil
		}
		store := connectiondao.NewSQL(db, relaysql.SQLOpts.ConnectionTable, relaysql.SQLOpts.Timeout)
		if relaysql.SQLOpts.CreateTable {
			createCtx, cancel := relaysql.WithTimeout(ctx, relaysql.SQLOpts.Timeout)
			defer cancel()
			if err := store.CreateTable(createCtx); err != nil {
				logger.Warn().Err(err).Msg("unable to create connection table")
			}
		}
		logger.Info().Str("table", relaysql.SQLOpts.ConnectionTable).Msg("mirroring connections to sql")
		return store, nil

	default:
		return connectiondao.Nop{}, nil
	}
}

func reportConnections(ctx context.Context, logger zerolog.Logger, metrics relaycli.Metrics, registry *relayws.Registry) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	ctx = logger.WithContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.Gauge(ctx, relaycli.ActiveConnectionsMetric, float64(registry.Len()))
		}
	}
}
