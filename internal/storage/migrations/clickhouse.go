package migrations

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	chstore "solana-wallet-tracker/internal/storage/clickhouse"
)

var errSemicolonInLiteral = errors.New("semicolon inside string literal")

// RunClickhouseMigrations creates the DSN's database when missing, applies the
// embedded schema and returns a connection to that database.
func RunClickhouseMigrations(ctx context.Context, dsn string) (*chstore.Conn, error) {
	dbName, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	files, err := readSQL(ClickhouseFS, "clickhouse")
	if err != nil {
		return nil, err
	}

	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse admin: %w", err)
	}
	err = admin.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+dbName)
	admin.Close()
	if err != nil {
		return nil, fmt.Errorf("create database %s: %w", dbName, err)
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, dbName)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse db: %w", err)
	}
	for _, f := range files {
		stmts, err := splitStatements(f.body)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("migration %s: %w", f.name, err)
		}
		for _, stmt := range stmts {
			if err := conn.Exec(ctx, stmt); err != nil {
				conn.Close()
				return nil, fmt.Errorf("apply migration %s: %w", f.name, err)
			}
		}
	}
	return conn, nil
}

// splitStatements drops "--" comment lines and splits on ';', since the
// driver runs one statement per Exec. Semicolons inside quoted literals are
// rejected rather than parsed.
func splitStatements(sql string) ([]string, error) {
	var b strings.Builder
	for _, line := range strings.Split(sql, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	body := b.String()

	quoted := false
	for i := 0; i < len(body); i++ {
		switch {
		case body[i] == '\'' && quoted && i+1 < len(body) && body[i+1] == '\'':
			i++
		case body[i] == '\'':
			quoted = !quoted
		case body[i] == ';' && quoted:
			return nil, errSemicolonInLiteral
		}
	}

	var stmts []string
	for _, part := range strings.Split(body, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts, nil
}

func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	if db := strings.TrimPrefix(u.Path, "/"); db != "" {
		return db, nil
	}
	return "", errors.New("clickhouse dsn missing database")
}
