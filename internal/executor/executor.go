// Package executor replays a decoded operation against the Storage API.
package executor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"merge-branch-storage/internal/domain"
	"merge-branch-storage/internal/storageapi"
)

// StorageClient is the part of the Storage API the executor mutates.
type StorageClient interface {
	CreateBucket(ctx context.Context, req storageapi.CreateBucketRequest) (*storageapi.Bucket, error)
	DropBucket(ctx context.Context, id string, opts storageapi.DropOptions) error
	CreateTableDefinition(ctx context.Context, bucketID string, req storageapi.CreateTableDefinitionRequest) (*storageapi.Table, error)
	CreateTableAsync(ctx context.Context, bucketID string, req storageapi.CreateTableRequest, dataPath string) (string, error)
	GetTable(ctx context.Context, id string) (*storageapi.Table, error)
	DropTable(ctx context.Context, id string, opts storageapi.DropOptions) error
	AddTableColumn(ctx context.Context, tableID string, req storageapi.AddColumnRequest) error
	DeleteTableColumn(ctx context.Context, tableID, column string, opts storageapi.DropOptions) error
	CreateTablePrimaryKey(ctx context.Context, tableID string, columns []string) error
	RemoveTablePrimaryKey(ctx context.Context, tableID string) error
	PostTableMetadataWithColumns(ctx context.Context, tableID string, upd storageapi.TableMetadataUpdate) error
}

var _ StorageClient = (*storageapi.Client)(nil)

// Recorder counts item outcomes. telemetry.Metrics implements it.
type Recorder interface {
	ItemApplied(action string)
	ItemSkipped(action string)
}

// Policy decides what happens when one item of a batch fails.
type Policy int

const (
	// TolerateItem skips items the backend rejects as a state conflict and
	// keeps going. Any other error aborts the batch.
	TolerateItem Policy = iota
	// FailFast aborts on the first failed item.
	FailFast
)

func (p Policy) String() string {
	if p == FailFast {
		return "fail-fast"
	}
	return "tolerate-item"
}

// Skip records one item left out under TolerateItem.
type Skip struct {
	Item  string
	Error string
}

// Report summarizes one Apply.
type Report struct {
	Action  domain.Action
	Applied int
	Skipped int
	Skips   []Skip
}

// Executor applies operations. It is not safe for concurrent use.
type Executor struct {
	client  StorageClient
	dataDir string
	logger  zerolog.Logger
	metrics Recorder
}

// New creates an executor. Seed files for untyped tables are written to dataDir.
func New(client StorageClient, dataDir string, logger zerolog.Logger, metrics Recorder) *Executor {
	return &Executor{
		client:  client,
		dataDir: dataDir,
		logger:  logger.With().Str("component", "executor").Logger(),
		metrics: metrics,
	}
}

// Apply runs op item by item in input order. The returned report is valid
// even when an error aborts the batch midway.
func (e *Executor) Apply(ctx context.Context, op domain.Operation, policy Policy) (Report, error) {
	b := &batch{
		exec:   e,
		policy: policy,
		report: Report{Action: op.Action()},
		logger: e.logger.With().Str("action", string(op.Action())).Logger(),
	}

	var err error
	switch op := op.(type) {
	case domain.AddBuckets:
		err = b.addBuckets(ctx, op)
	case domain.AddTables:
		err = b.addTables(ctx, op)
	case domain.AddColumns:
		err = b.addColumns(ctx, op)
	case domain.AddPrimaryKey:
		err = b.addPrimaryKey(ctx, op)
	case domain.DropBuckets:
		err = b.dropBuckets(ctx, op)
	case domain.DropTables:
		err = b.dropTables(ctx, op)
	case domain.DropColumns:
		err = b.dropColumns(ctx, op)
	case domain.DropPrimaryKeys:
		err = b.dropPrimaryKeys(ctx, op)
	case domain.EditColumnsMetadata:
		err = b.editColumnsMetadata(ctx, op)
	default:
		err = fmt.Errorf("%w: %T", domain.ErrUnknownAction, op)
	}

	b.logger.Info().
		Int("applied", b.report.Applied).
		Int("skipped", b.report.Skipped).
		Err(err).
		Msg("batch finished")
	return b.report, err
}

// batch holds the state of one Apply call.
type batch struct {
	exec   *Executor
	policy Policy
	report Report
	logger zerolog.Logger
}

// step runs fn for one item and applies the error policy.
func (b *batch) step(item string, fn func() error) error {
	err := fn()
	if err == nil {
		b.report.Applied++
		b.logger.Info().Str("item", item).Msg("applied")
		if b.exec.metrics != nil {
			b.exec.metrics.ItemApplied(string(b.report.Action))
		}
		return nil
	}

	if b.policy == TolerateItem && storageapi.IsConflict(err) {
		b.report.Skipped++
		b.report.Skips = append(b.report.Skips, Skip{Item: item, Error: err.Error()})
		b.logger.Warn().Str("item", item).Err(err).Msg("skipped")
		if b.exec.metrics != nil {
			b.exec.metrics.ItemSkipped(string(b.report.Action))
		}
		return nil
	}

	b.logger.Error().Str("item", item).Err(err).Msg("failed")
	return err
}
