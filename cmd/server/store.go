package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/warp/incentive-engine/config"
	"github.com/warp/incentive-engine/incentive"
	memstore "github.com/warp/incentive-engine/incentive/store"
	"github.com/warp/incentive-engine/store/mongodb"
	"github.com/warp/incentive-engine/store/postgres"
	"github.com/warp/incentive-engine/store/sqlite"
)

// openStore opens the document store selected by store.driver. The returned
// close function is never nil.
func openStore(ctx context.Context, c *config.Config) (incentive.DocumentStore, func(), error) {
	switch c.Store.Driver {
	case config.DriverMemory:
		return memstore.NewMemory(), func() {}, nil

	case config.DriverSQLite:
		s, err := sqlite.New(c.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil

	case config.DriverPostgres:
		s, err := postgres.New(ctx, c.Store.DSN, &postgres.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case config.DriverMongo:
		s, err := mongodb.Connect(ctx, c.Store.DSN, c.Mongo.Database)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(context.Background()); err != nil {
				zap.L().Warn("close mongo store", zap.Error(err))
			}
		}, nil

	default:
		return nil, nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}
