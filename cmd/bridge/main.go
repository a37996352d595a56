package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"ibbridge/internal/bridge"
	"ibbridge/internal/broker"
	"ibbridge/internal/bus"
	"ibbridge/internal/httpapi"
	"ibbridge/internal/journal"
	"ibbridge/internal/obs"
	"ibbridge/internal/ops"
	"ibbridge/internal/sink"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	paper := flag.Bool("paper", false, "Run against the in-process paper session")
	flag.Parse()

	cfg, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if *paper {
		cfg.Broker.Paper = true
	}

	if cfg.Pyroscope.Address != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: cfg.Pyroscope.Application,
			ServerAddress:   cfg.Pyroscope.Address,
			Tags: map[string]string{
				"client_id": strconv.Itoa(cfg.Broker.ClientID),
			},
			Logger: emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("bridge failed: %v", err)
	}
}

func run(ctx context.Context, cfg ops.Loaded) error {
	queue := bus.NewQueue(cfg.Session.QueueSize)
	client, err := newClient(queue, cfg.Broker)
	if err != nil {
		return err
	}

	sinks, closers, err := openSinks(cfg)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logs.Errorf("close sink failed, err: %+v", err)
			}
		}
	}()

	b := bridge.New(client, queue, bridge.Option{
		ClientID:       cfg.Broker.ClientID,
		Reconnect:      cfg.Session.Reconnect,
		Timeout:        cfg.Session.Timeout,
		TimeOffset:     cfg.Features.TimeOffset,
		TimeRefresh:    cfg.Session.TimeRefresh,
		IndCash:        cfg.Features.IndCash,
		IntradayRanges: cfg.Features.IntradayRanges,
		AccountWait:    cfg.Session.AccountWait,
		Sinks:          sinks,
		Overflow:       bridge.OverflowDropOldest,
		Metrics:        obs.NewMetrics(),
	})
	if err := b.Start(ctx); err != nil {
		b.Stop()
		return errors.Wrap(err, "start bridge")
	}
	defer b.Stop()
	logs.Infof("bridge connected to %s:%d as client %d", cfg.Broker.Host, cfg.Broker.Port, cfg.Broker.ClientID)

	serveErr := make(chan error, 1)
	if cfg.HTTP.Addr != "" {
		srv := httpapi.NewServer(b, cfg.HTTP.Addr)
		go func() {
			serveErr <- srv.Run(ctx)
		}()
		logs.Infof("http api listening on %s", cfg.HTTP.Addr)
	}

	select {
	case <-sys.Shutdown():
		logs.Info("shutdown requested")
	case <-ctx.Done():
		logs.Info("context canceled")
	case err := <-serveErr:
		if err != nil {
			return errors.Wrap(err, "http api")
		}
	}
	return nil
}

func newClient(queue *bus.Queue, cfg ops.BrokerConfig) (broker.Client, error) {
	if !cfg.Paper {
		return nil, errors.Errorf("no wire client linked for %s:%d, run with -paper", cfg.Host, cfg.Port)
	}
	return broker.NewPaper(queue, broker.PaperOption{
		Account: cfg.Account,
	}), nil
}

func openSinks(cfg ops.Loaded) ([]bridge.Sink, []io.Closer, error) {
	var (
		sinks   []bridge.Sink
		closers []io.Closer
	)
	if cfg.Postgres.Enabled() {
		j, err := journal.Open(journal.Option{
			Host:       cfg.Postgres.Host,
			Port:       cfg.Postgres.Port,
			User:       cfg.Postgres.User,
			Password:   cfg.Postgres.Password,
			Database:   cfg.Postgres.Database,
			SSLMode:    cfg.Postgres.SSLMode,
			ConnString: cfg.Postgres.ConnString,
		})
		if err != nil {
			return nil, nil, errors.Wrap(err, "open journal")
		}
		sinks = append(sinks, j)
		closers = append(closers, j)
	}
	if cfg.Kafka.Enabled() {
		k := sink.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		sinks = append(sinks, k)
		closers = append(closers, k)
	}
	return sinks, closers, nil
}

type emptyLogger struct{}

func (emptyLogger) Infof(_ string, _ ...interface{})  {}
func (emptyLogger) Debugf(_ string, _ ...interface{}) {}
func (emptyLogger) Errorf(_ string, _ ...interface{}) {}
