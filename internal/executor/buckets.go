package executor

import (
	"context"

	"merge-branch-storage/internal/domain"
	"merge-branch-storage/internal/storageapi"
)

func (b *batch) addBuckets(ctx context.Context, op domain.AddBuckets) error {
	for _, spec := range op.Buckets {
		req := storageapi.CreateBucketRequest{
			Name:        domain.NormalizeBucketName(spec.Name),
			Stage:       spec.Stage,
			Description: spec.Description,
			Backend:     spec.Backend,
			DisplayName: spec.DisplayName,
		}
		err := b.step(req.Stage+".c-"+req.Name, func() error {
			_, err := b.exec.client.CreateBucket(ctx, req)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *batch) dropBuckets(ctx context.Context, op domain.DropBuckets) error {
	opts := storageapi.DropOptions{Force: true, Async: true}
	for _, id := range op.BucketIDs {
		if err := b.step(id, func() error {
			return b.exec.client.DropBucket(ctx, id, opts)
		}); err != nil {
			return err
		}
	}
	return nil
}
