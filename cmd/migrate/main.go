package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"auto_ig/pkg/db"
)

const createVersions = `CREATE TABLE IF NOT EXISTS schema_migrations (
    name       TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// pending returns the sql files under dir that are not applied yet, in name order.
func pending(dir string, applied map[string]bool) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, errors.Wrap(err, "get file glob")
	}
	sort.Strings(files)
	out := make([]string, 0, len(files))
	for _, f := range files {
		if !applied[filepath.Base(f)] {
			out = append(out, f)
		}
	}
	return out, nil
}

func appliedSet(ctx context.Context, tx db.Transaction) (map[string]bool, error) {
	rows, err := tx.Query(ctx, `SELECT name FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}

func apply(ctx context.Context, tm *db.PgTxManager, file string) error {
	body, err := os.ReadFile(file)
	if err != nil {
		return errors.Wrap(err, "read migration")
	}
	return tm.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		if _, err := tx.Exec(ctxTx, string(body)); err != nil {
			return errors.Wrapf(err, "exec %s", file)
		}
		_, err := tx.Exec(ctxTx, `INSERT INTO schema_migrations (name) VALUES ($1)`, filepath.Base(file))
		return err
	})
}

func main() {
	viper.SetConfigName(".migrate")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.SetDefault("dir", "migrations")
	viper.SetDefault("timeout", time.Minute)
	_ = viper.BindEnv("dsn", "DATABASE_DSN")
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}
	dsn := viper.GetString("dsn")
	if strings.TrimSpace(dsn) == "" {
		panic("has no dsn in .migrate.yaml or DATABASE_DSN")
	}

	ctx, cancel := context.WithTimeout(context.Background(), viper.GetDuration("timeout"))
	defer cancel()

	pool, err := db.NewPool(ctx, db.PoolConfig{DSN: dsn, MaxConns: 1})
	if err != nil {
		panic(fmt.Errorf("create pool: %w", err))
	}
	tm := db.NewPgTxManager(pool)
	defer tm.Close()

	if _, err := pool.Exec(ctx, createVersions); err != nil {
		panic(fmt.Errorf("create schema_migrations: %w", err))
	}
	applied, err := appliedSet(ctx, pool)
	if err != nil {
		panic(fmt.Errorf("read schema_migrations: %w", err))
	}
	files, err := pending(viper.GetString("dir"), applied)
	if err != nil {
		panic(err)
	}
	for _, file := range files {
		if err := apply(ctx, tm, file); err != nil {
			panic(fmt.Errorf("apply: %w", err))
		}
		fmt.Printf("%s applied\n", file)
	}
	fmt.Println("done")
}
