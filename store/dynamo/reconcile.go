package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/arbor/store"
)

// EnsureIndexRows writes the membership rows implied by a record's indexed
// list fields. Puts are idempotent, so repairing an already-consistent
// record is a no-op. This is the per-record recovery step after
// store.ErrIndexInconsistency.
func (s *Store) EnsureIndexRows(ctx context.Context, collection string, rec *store.Record) error {
	for _, spec := range s.specsFor(collection) {
		if spec.Kind != store.IndexMembership {
			continue
		}
		for _, member := range rec.Fields.Keys(spec.Field) {
			row, err := s.marshalMembershipRow(spec.Field, member, rec.ID, rec.Seq)
			if err != nil {
				return err
			}
			_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
				TableName: aws.String(s.config.MembershipTable),
				Item:      row,
			})
			if err != nil {
				return fmt.Errorf("repair %s.%s row for %s: %w", collection, spec.Field, rec.ID, err)
			}
		}
	}
	return nil
}

// RebuildMembership reconciles the membership index of a whole collection
// from a full item-table scan. Queries over the collection's membership
// index are trusted again once this returns nil.
func (s *Store) RebuildMembership(ctx context.Context, collection string) error {
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName: aws.String(s.table(collection)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("scan %s: %w", collection, err)
		}
		for _, item := range page.Items {
			rec, err := unmarshalRecord(item)
			if err != nil {
				return err
			}
			if err := s.EnsureIndexRows(ctx, collection, rec); err != nil {
				return err
			}
		}
	}
	return nil
}
