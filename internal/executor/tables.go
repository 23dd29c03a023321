package executor

import (
	"context"
	"errors"
	"fmt"
	"os"

	"merge-branch-storage/internal/domain"
	"merge-branch-storage/internal/storageapi"
)

func (b *batch) addTables(ctx context.Context, op domain.AddTables) error {
	for _, spec := range op.Tables {
		item := spec.Bucket.ID + "." + spec.Name
		err := b.step(item, func() error {
			if spec.IsTyped {
				return b.createTypedTable(ctx, spec)
			}
			return b.createUntypedTable(ctx, spec)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *batch) createTypedTable(ctx context.Context, spec domain.TableSpec) error {
	if spec.Definition == nil {
		return domain.ErrUser("Typed table %q has no definition.", spec.Name)
	}

	req := storageapi.CreateTableDefinitionRequest{
		Name:             spec.Name,
		PrimaryKeysNames: spec.Definition.PrimaryKeysNames,
		Columns:          make([]storageapi.TableColumn, 0, len(spec.Definition.Columns)),
	}
	if req.PrimaryKeysNames == nil {
		req.PrimaryKeysNames = []string{}
	}
	for _, col := range spec.Definition.Columns {
		req.Columns = append(req.Columns, storageapi.TableColumn{
			Name:       col.Name,
			Definition: toColumnDefinition(col.Definition),
			Basetype:   col.Basetype,
		})
	}
	if spec.DistributionType != "" {
		req.Distribution = &storageapi.Distribution{
			Type:                     spec.DistributionType,
			DistributionColumnsNames: spec.DistributionKey,
		}
	}
	if spec.IndexType != "" {
		req.Index = &storageapi.Index{
			Type:              spec.IndexType,
			IndexColumnsNames: spec.IndexKey,
		}
	}

	_, err := b.exec.client.CreateTableDefinition(ctx, spec.Bucket.ID, req)
	return err
}

// createUntypedTable seeds the table from a header-only CSV, then replays
// its column metadata. The seed file never outlives the call.
func (b *batch) createUntypedTable(ctx context.Context, spec domain.TableSpec) error {
	path, err := writeSeedFile(b.exec.dataDir, spec.Columns)
	if err != nil {
		return err
	}
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			b.logger.Warn().Err(rmErr).Str("path", path).Msg("remove seed file")
		}
	}()

	tableID, err := b.exec.client.CreateTableAsync(ctx, spec.Bucket.ID, storageapi.CreateTableRequest{
		Name:                       spec.Name,
		PrimaryKey:                 spec.PrimaryKey,
		DistributionKey:            spec.DistributionKey,
		Transactional:              spec.Transactional,
		Columns:                    spec.Columns,
		SyntheticPrimaryKeyEnabled: spec.SyntheticPrimaryKeyEnabled,
	}, path)
	if err != nil {
		return err
	}

	for _, group := range domain.GroupColumnMetadata(spec.ColumnMetadata) {
		if err := b.exec.client.PostTableMetadataWithColumns(ctx, tableID, toMetadataUpdate(group)); err != nil {
			return fmt.Errorf("table %s created: %w", tableID, err)
		}
	}
	return nil
}

func (b *batch) dropTables(ctx context.Context, op domain.DropTables) error {
	opts := storageapi.DropOptions{Force: true}
	for _, id := range op.TableIDs {
		if err := b.step(id, func() error {
			return b.exec.client.DropTable(ctx, id, opts)
		}); err != nil {
			return err
		}
	}
	return nil
}

func toColumnDefinition(d domain.ColumnTypeDefinition) storageapi.ColumnDefinition {
	return storageapi.ColumnDefinition{
		Type:     d.Type,
		Length:   d.Length,
		Nullable: d.Nullable,
		Default:  d.Default,
	}
}
