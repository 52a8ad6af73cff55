package storage

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Executor führt Massen-Statements gegen die Core-Datenbank aus.
// Anders als ein "loggen und 0 zurückgeben" liefert jede Methode einen Fehler,
// damit "keine Zeilen betroffen" und "Statement fehlgeschlagen" unterscheidbar bleiben.
type Executor struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewExecutor erstellt einen Executor.
func NewExecutor(db *gorm.DB, logger *zap.Logger) *Executor {
	return &Executor{db: db, logger: logger}
}

// DB gibt die zugrunde liegende Verbindung (oder Transaktion) zurück.
func (e *Executor) DB() *gorm.DB { return e.db }

// Execute führt ein einzelnes Statement aus und liefert die Anzahl betroffener Zeilen.
func (e *Executor) Execute(ctx context.Context, stmt string, args ...any) (int64, error) {
	res := e.db.WithContext(ctx).Exec(stmt, args...)
	if res.Error != nil {
		e.logger.Error("Statement failed", zap.String("sql", abbreviate(stmt)), zap.Error(res.Error))
		return 0, fmt.Errorf("execute %q: %w", abbreviate(stmt), res.Error)
	}
	return res.RowsAffected, nil
}

// ExecuteInBatches führt stmt in aufeinanderfolgenden ID-Bereichen [lo, lo+batchSize) aus.
// stmt muss eine WHERE-Klausel enthalten; die Bereichsbedingung wird mit AND angehängt.
func (e *Executor) ExecuteInBatches(ctx context.Context, stmt, idColumn string, minID, maxID, batchSize int64, args ...any) (int64, error) {
	if !strings.Contains(strings.ToUpper(stmt), "WHERE") {
		return 0, errors.New("batched statement needs a WHERE clause")
	}
	if batchSize <= 0 {
		return 0, fmt.Errorf("invalid batch size %d", batchSize)
	}
	ranged := fmt.Sprintf("%s AND %s >= ? AND %s < ?", stmt, idColumn, idColumn)
	var total int64
	for lo := minID; lo <= maxID; lo += batchSize {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		hi := lo + batchSize
		batchArgs := append(append([]any{}, args...), lo, hi)
		n, err := e.Execute(ctx, ranged, batchArgs...)
		if err != nil {
			return total, fmt.Errorf("batch %d-%d: %w", lo, hi-1, err)
		}
		total += n
		e.logger.Debug("Batch executed",
			zap.Int64("from_id", lo), zap.Int64("to_id", hi-1), zap.Int64("rows", n))
	}
	return total, nil
}

// BulkInsert fügt rows (Zeiger auf Slice) in Batches ein; Primärschlüssel werden zurückgeschrieben.
func (e *Executor) BulkInsert(ctx context.Context, rows any, batchSize int) (int64, error) {
	v := reflect.Indirect(reflect.ValueOf(rows))
	if v.Kind() != reflect.Slice {
		return 0, fmt.Errorf("bulk insert expects a slice, got %T", rows)
	}
	if v.Len() == 0 {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = 1000
	}
	res := e.db.WithContext(ctx).CreateInBatches(rows, batchSize)
	if res.Error != nil {
		e.logger.Error("Bulk insert failed", zap.String("type", fmt.Sprintf("%T", rows)), zap.Error(res.Error))
		return 0, fmt.Errorf("bulk insert: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// MinID liefert die kleinste id der Tabelle (0 bei leerer Tabelle).
func (e *Executor) MinID(ctx context.Context, table string) (int64, error) {
	return e.scalar(ctx, fmt.Sprintf("SELECT COALESCE(MIN(id), 0) FROM %s", table))
}

// MaxID liefert die größte id der Tabelle (0 bei leerer Tabelle).
func (e *Executor) MaxID(ctx context.Context, table string) (int64, error) {
	return e.scalar(ctx, fmt.Sprintf("SELECT COALESCE(MAX(id), 0) FROM %s", table))
}

// Count liefert die Zeilenanzahl der Tabelle.
func (e *Executor) Count(ctx context.Context, table string) (int64, error) {
	return e.scalar(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table))
}

// Transaction führt fn in einer Transaktion aus; fn erhält einen Executor auf der Transaktion.
func (e *Executor) Transaction(ctx context.Context, fn func(tx *Executor) error) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Executor{db: tx, logger: e.logger})
	})
}

func (e *Executor) scalar(ctx context.Context, query string) (int64, error) {
	var n int64
	if err := e.db.WithContext(ctx).Raw(query).Scan(&n).Error; err != nil {
		e.logger.Error("Range probe failed", zap.String("sql", query), zap.Error(err))
		return 0, fmt.Errorf("probe %q: %w", query, err)
	}
	return n, nil
}

func abbreviate(stmt string) string {
	s := strings.Join(strings.Fields(stmt), " ")
	if len(s) > 160 {
		return s[:160] + "..."
	}
	return s
}
