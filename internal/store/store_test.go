package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hyperjump/memo/internal/analyze"
	"github.com/hyperjump/memo/internal/embedding"
	"github.com/hyperjump/memo/internal/filter"
	"github.com/hyperjump/memo/internal/meta"
	"github.com/hyperjump/memo/internal/models"
	"github.com/hyperjump/memo/internal/storage"
)

func newStore(t *testing.T, layout storage.Layout, indexType string, opts ...Option) *Store {
	t.Helper()
	base := filepath.Join(t.TempDir(), "memo")
	return openStore(t, base, layout, indexType, opts...)
}

func openStore(t *testing.T, base string, layout storage.Layout, indexType string, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithIndexType(indexType)}, opts...)
	s, err := New(base, layout, embedding.NewHashEmbedder(embedding.Dimensions), opts...)
	require.NoError(t, err)
	return s
}

func inputs(bodies ...string) []models.RecordInput {
	out := make([]models.RecordInput, len(bodies))
	for i, b := range bodies {
		out[i] = models.RecordInput{Body: b}
	}
	return out
}

func withMeta(t *testing.T, body, md string) models.RecordInput {
	t.Helper()
	m, err := meta.ParseMap(md)
	require.NoError(t, err)
	return models.RecordInput{Body: body, Metadata: m}
}

func overrideInput(id int64, body string) models.RecordInput {
	return models.RecordInput{ID: &id, Body: body}
}

func parseFilter(t *testing.T, text string) *filter.Expr {
	t.Helper()
	f, err := filter.Parse(text)
	require.NoError(t, err)
	return &f
}

func resultIDs(resp *models.RecallResponse) []int {
	ids := make([]int, len(resp.Results))
	for i, r := range resp.Results {
		ids[i] = r.ID
	}
	return ids
}

func TestRecall_BuyScenario(t *testing.T) {
	ctx := context.Background()
	for _, indexType := range []string{"hnsw", "flat"} {
		t.Run(indexType, func(t *testing.T) {
			s := newStore(t, storage.LayoutYAML, indexType)
			resp, err := s.Save(ctx, inputs("buy milk", "pay rent", "buy bread"))
			require.NoError(t, err)
			require.Len(t, resp.Records, 3)
			for i, m := range resp.Records {
				assert.Equal(t, i, m.ID)
				assert.False(t, m.Overwritten)
			}

			got, err := s.Recall(ctx, "buy", 2, nil)
			require.NoError(t, err)
			assert.ElementsMatch(t, []int{0, 2}, resultIDs(got))
			assert.Equal(t, 1, got.Results[0].Rank)
			assert.Equal(t, 2, got.Results[1].Rank)
		})
	}
}

func TestRecall_Properties(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, storage.LayoutYAML, "hnsw")
	_, err := s.Save(ctx, inputs(
		"buy milk", "pay rent", "buy bread", "walk the dog",
		"call mom", "buy milk and bread", "rent a car",
	))
	require.NoError(t, err)

	for k := 1; k <= 9; k++ {
		resp, err := s.Recall(ctx, "buy milk", k, nil)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(resp.Results), k)
		for i, r := range resp.Results {
			assert.GreaterOrEqual(t, r.Score, DefaultScoreFloor)
			if i > 0 {
				assert.LessOrEqual(t, r.Score, resp.Results[i-1].Score)
			}
		}
	}

	_, err = s.Recall(ctx, "buy", 0, nil)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestRecall_ScoreFloor(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, storage.LayoutYAML, "flat", WithScoreFloor(0.5))
	_, err := s.Save(ctx, inputs("buy milk", "pay rent"))
	require.NoError(t, err)

	resp, err := s.Recall(ctx, "buy milk", 5, nil)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 0, resp.Results[0].ID)
	assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-5)
}

func TestRecall_EmptyStore(t *testing.T) {
	s := newStore(t, storage.LayoutYAML, "hnsw")
	resp, err := s.Recall(context.Background(), "anything", 3, parseFilter(t, "{a: 1}"))
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Equal(t, "{a: 1}", resp.Filter)
	_, err = os.Stat(s.IndexPath())
	assert.True(t, os.IsNotExist(err), "recall must not write")
}

func TestRecall_Filter(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, storage.LayoutYAML, "hnsw")
	_, err := s.Save(ctx, []models.RecordInput{
		withMeta(t, "buy milk", "{source: cli, tags: [shopping]}"),
		{Body: "buy bread"},
		withMeta(t, "buy eggs", "{source: web, tags: [shopping, urgent]}"),
		withMeta(t, "pay rent", "{source: cli}"),
	})
	require.NoError(t, err)

	resp, err := s.Recall(ctx, "buy", 10, parseFilter(t, "{source: cli}"))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 3}, resultIDs(resp))

	resp, err = s.Recall(ctx, "buy", 10, parseFilter(t, "{tags: {$contains: urgent}}"))
	require.NoError(t, err)
	assert.Equal(t, []int{2}, resultIDs(resp))
	require.NotNil(t, resp.Results[0].Metadata)

	// An empty filter still skips records without metadata.
	resp, err = s.Recall(ctx, "buy", 10, parseFilter(t, "{}"))
	require.NoError(t, err)
	assert.NotContains(t, resultIDs(resp), 1)
	assert.Len(t, resp.Results, 3)

	resp, err = s.Recall(ctx, "buy", 10, nil)
	require.NoError(t, err)
	assert.Len(t, resp.Results, 4)
}

func TestSave_Overwrite(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		indexType   string
		wantRebuilt bool
	}{
		{"hnsw", true},
		{"flat", false},
	}
	for _, tt := range tests {
		t.Run(tt.indexType, func(t *testing.T) {
			s := newStore(t, storage.LayoutYAML, tt.indexType)
			_, err := s.Save(ctx, inputs("alpha", "beta", "gamma", "delta", "epsilon", "zebra quagga okapi"))
			require.NoError(t, err)

			resp, err := s.Save(ctx, []models.RecordInput{overrideInput(5, "new body")})
			require.NoError(t, err)
			assert.Equal(t, []models.Memorized{{ID: 5, Body: "new body", Overwritten: true}}, resp.Records)
			assert.Equal(t, tt.wantRebuilt, resp.Rebuilt)

			got, err := s.Recall(ctx, "new body", 1, nil)
			require.NoError(t, err)
			require.Len(t, got.Results, 1)
			assert.Equal(t, 5, got.Results[0].ID)
			assert.Equal(t, "new body", got.Results[0].Body)

			got, err = s.Recall(ctx, "zebra quagga okapi", 6, nil)
			require.NoError(t, err)
			for _, r := range got.Results {
				assert.NotEqual(t, "zebra quagga okapi", r.Body)
				if r.ID == 5 {
					assert.Less(t, r.Score, 0.9)
				}
			}

			st, err := s.Status(ctx)
			require.NoError(t, err)
			assert.Equal(t, 6, st.Records)
			assert.Equal(t, 6, st.IndexSize)
			assert.True(t, st.Consistent)
		})
	}
}

func TestSave_OverrideWithinBatch(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, storage.LayoutYAML, "hnsw")
	resp, err := s.Save(ctx, []models.RecordInput{
		{Body: "first"},
		overrideInput(0, "first again"),
		{Body: "second"},
	})
	require.NoError(t, err)
	assert.Equal(t, []models.Memorized{
		{ID: 0, Body: "first"},
		{ID: 0, Body: "first again", Overwritten: true},
		{ID: 1, Body: "second"},
	}, resp.Records)
	assert.True(t, resp.Rebuilt)

	got, err := s.Recall(ctx, "first again", 1, nil)
	require.NoError(t, err)
	assert.Equal(t, "first again", got.Results[0].Body)
}

func TestSave_ValidationLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, storage.LayoutYAML, "hnsw")
	_, err := s.Save(ctx, inputs("buy milk", "pay rent", "buy bread"))
	require.NoError(t, err)

	tablePath := s.Paths()[1]
	before, err := os.ReadFile(tablePath)
	require.NoError(t, err)
	indexBefore, err := os.ReadFile(s.IndexPath())
	require.NoError(t, err)

	_, err = s.Save(ctx, []models.RecordInput{{Body: "new"}, overrideInput(10, "x")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoSuchID))
	assert.Contains(t, err.Error(), "override id 10 does not exist")

	_, err = s.Save(ctx, []models.RecordInput{{Body: "ok"}, {Body: "   "}})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = s.Save(ctx, nil)
	assert.True(t, errors.Is(err, ErrInvalidInput))

	err = s.Overwrite(ctx, 3, "one past the end", nil)
	assert.True(t, errors.Is(err, ErrNoSuchID))

	after, err := os.ReadFile(tablePath)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	indexAfter, err := os.ReadFile(s.IndexPath())
	require.NoError(t, err)
	assert.Equal(t, indexBefore, indexAfter)
}

func TestRoundTrip_Layouts(t *testing.T) {
	ctx := context.Background()
	for _, layout := range []storage.Layout{storage.LayoutYAML, storage.LayoutFramed, storage.LayoutSQLite} {
		t.Run(string(layout), func(t *testing.T) {
			base := filepath.Join(t.TempDir(), "notes")
			s := openStore(t, base, layout, "hnsw")
			_, err := s.Save(ctx, []models.RecordInput{
				withMeta(t, "line one\nline two", "{source: cli, nested: {a: [1, 2]}}"),
				{Body: "ünïcødé ✓"},
				{Body: "third"},
			})
			require.NoError(t, err)

			id, err := s.InsertNew(ctx, "fourth", nil)
			require.NoError(t, err)
			assert.Equal(t, 3, id)

			reopened := openStore(t, base+".memo", layout, "hnsw")
			st, err := reopened.Status(ctx)
			require.NoError(t, err)
			assert.Equal(t, 4, st.Records)
			assert.Equal(t, 4, st.IndexSize)
			assert.True(t, st.Consistent)
			assert.Equal(t, string(layout), st.Layout)
			assert.Positive(t, st.DiskUsage)

			resp, err := reopened.Recall(ctx, "line two", 1, nil)
			require.NoError(t, err)
			require.Len(t, resp.Results, 1)
			assert.Equal(t, "line one\nline two", resp.Results[0].Body)
			v, ok := resp.Results[0].Metadata.Get("source")
			require.True(t, ok)
			assert.Equal(t, "cli", v.S)
		})
	}
}

func TestLoad_RebuildsDivergedIndex(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.WarnLevel)
	base := filepath.Join(t.TempDir(), "memo")
	s := openStore(t, base, storage.LayoutYAML, "hnsw", WithLogger(zap.New(core)))
	_, err := s.Save(ctx, inputs("buy milk", "pay rent"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(s.IndexPath(), []byte("garbage"), 0644))

	st, err := s.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Consistent)
	assert.Equal(t, 0, st.IndexSize)

	resp, err := s.Recall(ctx, "buy milk", 1, nil)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 0, resp.Results[0].ID)
	assert.NotZero(t, logs.FilterMessage("index out of sync with records, rebuilding").Len())

	_, err = s.InsertNew(ctx, "buy bread", nil)
	require.NoError(t, err)
	st, err = s.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Consistent)
	assert.Equal(t, 3, st.IndexSize)
}

func TestSave_IndexCommitFailureDropsStaleIndex(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, storage.LayoutYAML, "flat")
	_, err := s.Save(ctx, inputs("alpha", "zebra quagga okapi"))
	require.NoError(t, err)

	// A directory at the index path makes the final rename fail after the
	// table has been published.
	require.NoError(t, os.Remove(s.IndexPath()))
	require.NoError(t, os.Mkdir(s.IndexPath(), 0755))

	err = s.Overwrite(ctx, 1, "new body", nil)
	require.Error(t, err)
	_, statErr := os.Stat(s.IndexPath())
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "stale index should be removed, got %v", statErr)

	resp, err := s.Recall(ctx, "new body", 2, nil)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, 1, resp.Results[0].ID)
	assert.Equal(t, "new body", resp.Results[0].Body)
	assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-4)
}

func TestRebuild(t *testing.T) {
	ctx := context.Background()
	base := filepath.Join(t.TempDir(), "memo")
	flat := openStore(t, base, storage.LayoutYAML, "flat")

	n, err := flat.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	_, err = os.Stat(flat.IndexPath())
	assert.True(t, os.IsNotExist(err))

	_, err = flat.Save(ctx, inputs("a b", "c d", "e f"))
	require.NoError(t, err)

	hnsw := openStore(t, base, storage.LayoutYAML, "hnsw")
	st, err := hnsw.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "flat", st.IndexType)

	n, err = hnsw.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	st, err = hnsw.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hnsw", st.IndexType)
	assert.True(t, st.Consistent)
}

func TestClean(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, storage.LayoutYAML, "hnsw")

	res, err := s.Clean(ctx)
	require.NoError(t, err)
	assert.True(t, res.AlreadyEmpty())
	assert.Equal(t, s.Paths(), res.Paths)

	_, err = s.Save(ctx, inputs("buy milk"))
	require.NoError(t, err)
	res, err = s.Clean(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, s.Paths(), res.Removed)

	st, err := s.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Records)
	assert.Equal(t, int64(0), st.DiskUsage)
}

func TestClean_PropagatesRemovalError(t *testing.T) {
	s := newStore(t, storage.LayoutYAML, "flat")
	_, err := s.Save(context.Background(), inputs("alpha"))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(s.Base()+".db", "child"), 0755))

	_, err = s.Clean(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clean store")
}

func TestAnalyze(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, storage.LayoutFramed, "flat")
	_, err := s.Save(ctx, []models.RecordInput{
		withMeta(t, "a", "{score: '3'}"),
		withMeta(t, "b", "{score: '5'}"),
		{Body: "c"},
		withMeta(t, "d", "{score: '5'}"),
	})
	require.NoError(t, err)

	res, err := s.Analyze(ctx, analyze.Query{Filter: parseFilter(t, "{}"), StatsKey: "score", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Matched)
	assert.Equal(t, 2, res.Stats.Cardinality)
	assert.Equal(t, []analyze.ValueCount{{Value: "5", Count: 2}, {Value: "3", Count: 1}}, res.Stats.Top)

	_, err = s.Analyze(ctx, analyze.Query{Limit: 10})
	assert.True(t, errors.Is(err, analyze.ErrInvalidQuery))
}

func TestNew_Validation(t *testing.T) {
	_, err := New("memo", storage.LayoutYAML, nil)
	assert.Error(t, err)
	_, err = New("", storage.LayoutYAML, embedding.NewHashEmbedder(8))
	assert.Error(t, err)
	_, err = New("memo", storage.LayoutYAML, embedding.NewHashEmbedder(8), WithIndexType("annoy"))
	assert.Error(t, err)

	s, err := New(filepath.Join(t.TempDir(), "x.yaml"), storage.LayoutYAML, embedding.NewHashEmbedder(8), WithIndexType("memory"))
	require.NoError(t, err)
	assert.Equal(t, "x.memo", filepath.Base(s.IndexPath()))
}
