package cmd

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-sif/cassdl"
	"github.com/go-sif/cassdl/catalog"
	"github.com/go-sif/cassdl/config"
	"github.com/go-sif/cassdl/logging"
	"github.com/go-sif/cassdl/store/bolt"
	"github.com/go-sif/cassdl/store/cassandra"
	pkgerrors "github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func newLogger(conf *config.Config, stderr io.Writer) *logrus.Logger {
	return logging.New(stderr, logging.ParseLevel(conf.LogLevel))
}

// backend is an open backing store. source serves reads, connector opens sessions for
// ingestion workers.
type backend struct {
	source    cassdl.Source
	connector cassdl.Connector
	close     func()
}

// openBackend opens the store named by conf. With a bolt store, tables are declared from the
// configured column names.
func openBackend(conf *config.Config) (*backend, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	switch conf.Store {
	case config.StoreBolt:
		s, err := bolt.Open(conf.BoltPath)
		if err != nil {
			return nil, err
		}
		if err := declareBoltTables(s, conf); err != nil {
			s.Close()
			return nil, err
		}
		return &backend{source: s, connector: s, close: s.Close}, nil
	default:
		s, err := cassandra.Open(conf.CassandraOptions())
		if err != nil {
			return nil, err
		}
		return &backend{
			source:    s,
			connector: cassandra.Connector{Options: conf.CassandraOptions()},
			close:     s.Close,
		}, nil
	}
}

func declareBoltTables(s *bolt.Store, conf *config.Config) error {
	if conf.Catalog.Table != "" {
		cols := []string{conf.Catalog.IDColumn, conf.Catalog.LabelColumn}
		cols = append(cols, conf.Catalog.GroupColumns...)
		cols = append(cols, conf.Catalog.TagColumns...)
		for _, c := range []string{conf.Ingest.GroupColumn, conf.Ingest.TagColumn, conf.Ingest.PathColumn} {
			if c != "" {
				cols = append(cols, c)
			}
		}
		if err := s.CreateTable(conf.Catalog.Table, cols...); err != nil {
			return err
		}
	}
	return s.CreateTable(conf.Data.Table, conf.Catalog.IDColumn, conf.Data.LabelColumn, conf.Data.DataColumn)
}

// loadCatalog reads the catalog snapshot if one exists and was built with the configured
// catalog options. Otherwise it loads the catalog from the store and writes the snapshot.
func loadCatalog(ctx context.Context, conf *config.Config, src cassdl.Source, logger logrus.FieldLogger) (*catalog.Catalog, error) {
	path := conf.Catalog.Snapshot
	opts := conf.CatalogOptions(logger)
	if path != "" {
		cat, err := readSnapshot(path)
		if err != nil {
			return nil, err
		}
		if cat != nil {
			if cat.Matches(opts) {
				logger.WithField("snapshot", path).Info("Read catalog snapshot")
				return cat, nil
			}
			logger.WithField("snapshot", path).Warn("Catalog snapshot was built with other options, reloading")
		}
	}
	cat, err := catalog.Load(ctx, src, opts)
	if err != nil {
		return nil, err
	}
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if _, err := cat.WriteTo(f); err != nil {
			return nil, pkgerrors.Wrapf(err, "writing catalog snapshot %s", path)
		}
		logger.WithField("snapshot", path).Info("Wrote catalog snapshot")
	}
	return cat, nil
}

// readSnapshot returns the catalog stored at path, or nil if there is no such file
func readSnapshot(path string) (*catalog.Catalog, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	defer f.Close()
	cat, err := catalog.ReadFrom(f)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "reading catalog snapshot %s", path)
	}
	return cat, nil
}

// serveMetrics exposes prometheus metrics on addr until the returned function is called
func serveMetrics(addr string, logger logrus.FieldLogger) (func(), error) {
	if addr == "" {
		return func() {}, nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "listening on %s", addr)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Metrics server stopped")
		}
	}()
	logger.WithField("addr", ln.Addr().String()).Info("Serving metrics")
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// perSecond formats a rate for humans
func perSecond(n int, d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return humanize.CommafWithDigits(float64(n)/d.Seconds(), 1)
}
