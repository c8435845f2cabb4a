package sqlgen

import (
	"context"
	"database/sql"
	"fmt"

	"vizflow/internal/domain"
)

// Load creates t in db and fills it with rows in order.
func Load(ctx context.Context, db *sql.DB, t Table, rows []domain.Row) error {
	create, err := CreateTable(t)
	if err != nil {
		return err
	}
	insert, args, err := InsertRow(t)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin load %s: %w", t.Name, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("create table %s: %w", t.Name, err)
	}
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("prepare insert %s: %w", t.Name, err)
	}
	defer stmt.Close() //nolint:errcheck

	for i, r := range rows {
		if _, err := stmt.ExecContext(ctx, args(i, r)...); err != nil {
			return fmt.Errorf("insert row %d into %s: %w", i, t.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit load %s: %w", t.Name, err)
	}
	return nil
}

// Drop removes the table name from db if it exists.
func Drop(ctx context.Context, db *sql.DB, name string) error {
	stmt, err := DropTable(name)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("drop table %s: %w", name, err)
	}
	return nil
}

// Run executes q and scans the result into rows with normalised values.
func Run(ctx context.Context, db *sql.DB, q Query) ([]domain.Row, error) {
	rows, err := db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("execute workflow query: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	return ScanRows(rows)
}

// ScanRows reads every remaining row of rows.
func ScanRows(rows *sql.Rows) ([]domain.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	out := []domain.Row{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r := make(domain.Row, len(cols))
		for i, c := range cols {
			r[c] = normalize(values[i])
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

func normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case fmt.Stringer:
		if _, ok := domain.AsNumber(v); !ok {
			return x.String()
		}
	}
	return domain.Normalize(v)
}
