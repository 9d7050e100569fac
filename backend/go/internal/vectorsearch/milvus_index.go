package vectorsearch

import (
	milvusdb "BizAdvisor/backend/go/internal/database/milvus"
	"BizAdvisor/backend/go/internal/models"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// Describer hydrates display fields for index hits.
type Describer interface {
	Describe(ctx context.Context, kind models.RecordKind, ids []uint) (map[uint]Result, error)
}

// MilvusIndex keeps every embedding in one COSINE collection. Its score is a
// similarity, so distance is reported as 1 - score.
type MilvusIndex struct {
	client    *milvusdb.MilvusClient
	describer Describer
	oversample int // topK = limit * oversample
}

func NewMilvusIndex(client *milvusdb.MilvusClient, describer Describer) *MilvusIndex {
	return &MilvusIndex{client: client, describer: describer, oversample: 2}
}

// Search implements Index.
func (x *MilvusIndex) Search(ctx context.Context, vec []float32, f Filter) ([]Result, error) {
	sp, err := x.client.SearchParam()
	if err != nil {
		return nil, err
	}
	topK := f.Limit * x.oversample
	if topK <= 0 {
		topK = 10
	}

	results, err := x.client.Client.Search(
		ctx,
		x.client.Config.CollectionName,
		nil,
		filterExpr(f),
		[]string{milvusdb.FieldPK},
		[]entity.Vector{entity.FloatVector(vec)},
		milvusdb.FieldEmbedding,
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search in Milvus: %w", err)
	}

	distances := make(map[uint]float64)
	var ids []uint
	for _, res := range results {
		for i := 0; i < res.ResultCount; i++ {
			pk, err := res.IDs.GetAsString(i)
			if err != nil {
				continue
			}
			ref, err := parsePK(pk)
			if err != nil || ref.Kind != f.Kind {
				continue
			}
			if _, seen := distances[ref.ID]; !seen {
				ids = append(ids, ref.ID)
			}
			distances[ref.ID] = 1 - float64(res.Scores[i])
		}
	}

	described, err := x.describer.Describe(ctx, f.Kind, ids)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(ids))
	for _, id := range ids {
		r, ok := described[id]
		if !ok {
			continue
		}
		r.Distance = distances[id]
		out = append(out, r)
	}
	return out, nil
}

// Upsert replaces the stored vector of src.
func (x *MilvusIndex) Upsert(ctx context.Context, src *models.EmbeddingSource, vec []float32) error {
	if err := x.Delete(ctx, src.Ref); err != nil {
		return err
	}
	coll := x.client.Config.CollectionName
	_, err := x.client.Client.Insert(ctx, coll, "",
		entity.NewColumnVarChar(milvusdb.FieldPK, []string{pk(src.Ref)}),
		entity.NewColumnVarChar(milvusdb.FieldKind, []string{string(src.Ref.Kind)}),
		entity.NewColumnInt64(milvusdb.FieldOwnerID, []int64{int64(src.OwnerID)}),
		entity.NewColumnInt64(milvusdb.FieldThreadID, []int64{int64(src.ThreadID)}),
		entity.NewColumnInt64(milvusdb.FieldRecordedAt, []int64{src.RecordedAt.Unix()}),
		entity.NewColumnFloatVector(milvusdb.FieldEmbedding, len(vec), [][]float32{vec}),
	)
	if err != nil {
		return fmt.Errorf("failed to insert %s into Milvus: %w", pk(src.Ref), err)
	}
	return nil
}

// Delete removes the vector of ref, if any.
func (x *MilvusIndex) Delete(ctx context.Context, ref models.RecordRef) error {
	expr := fmt.Sprintf("%s == \"%s\"", milvusdb.FieldPK, pk(ref))
	if err := x.client.Client.Delete(ctx, x.client.Config.CollectionName, "", expr); err != nil {
		return fmt.Errorf("failed to delete %s from Milvus: %w", pk(ref), err)
	}
	return nil
}

func pk(ref models.RecordRef) string {
	return fmt.Sprintf("%s:%d", ref.Kind, ref.ID)
}

func parsePK(s string) (models.RecordRef, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok {
		return models.RecordRef{}, fmt.Errorf("malformed primary key %q", s)
	}
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return models.RecordRef{}, fmt.Errorf("malformed primary key %q: %w", s, err)
	}
	ref := models.RecordRef{Kind: models.RecordKind(kind), ID: uint(n)}
	if !ref.Kind.Valid() {
		return models.RecordRef{}, fmt.Errorf("unknown kind in primary key %q", s)
	}
	return ref, nil
}

// filterExpr renders f as a Milvus boolean expression.
func filterExpr(f Filter) string {
	parts := []string{fmt.Sprintf("%s == \"%s\"", milvusdb.FieldKind, f.Kind)}
	if !f.Global {
		parts = append(parts, fmt.Sprintf("%s == %d", milvusdb.FieldOwnerID, f.OwnerID))
	}
	if !f.Since.IsZero() {
		parts = append(parts, fmt.Sprintf("%s >= %d", milvusdb.FieldRecordedAt, f.Since.Unix()))
	}
	if f.ExcludeThread != 0 {
		parts = append(parts, fmt.Sprintf("%s != %d", milvusdb.FieldThreadID, f.ExcludeThread))
	}
	return strings.Join(parts, " && ")
}

var _ Index = (*MilvusIndex)(nil)
var _ Describer = (*SQLIndex)(nil)
