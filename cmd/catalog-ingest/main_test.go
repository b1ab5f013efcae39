package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pos-checkout/internal/domain/product"
)

// --- Helpers ---

func writeFeed(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

// --- Tests ---

func TestParseProduct(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    product.Product
		wantErr string
	}{
		{
			name: "weighed product with string numbers",
			line: `{"id":"cheese","name":"Gouda","stock":"12.500","buyPrice":6,"sellPrice":"10.00","unit":"kg","unitType":"weight","barcode":null,"extra":{"a":1}}`,
			want: product.Product{
				ID: "cheese", Name: "Gouda", Stock: decimal.RequireFromString("12.5"),
				BuyPrice: decimal.NewFromInt(6), SellPrice: decimal.NewFromInt(10),
				Unit: "kg", UnitType: product.UnitWeight,
			},
		},
		{name: "missing name", line: `{"id":"x","sellPrice":1}`, wantErr: "id and name are required"},
		{name: "negative price", line: `{"id":"x","name":"X","sellPrice":-1}`, wantErr: "negative price"},
		{name: "unknown unit type", line: `{"id":"x","name":"X","unitType":"litre"}`, wantErr: "unknown unit type"},
		{name: "not json", line: `id=x`, wantErr: "decode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseProduct([]byte(tt.line))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.ID, got.ID)
			assert.Equal(t, tt.want.Name, got.Name)
			assert.Equal(t, tt.want.UnitType, got.UnitType)
			assert.Empty(t, got.Barcode)
			assert.True(t, tt.want.Stock.Equal(got.Stock))
			assert.True(t, tt.want.BuyPrice.Equal(got.BuyPrice))
			assert.True(t, tt.want.SellPrice.Equal(got.SellPrice))
		})
	}
}

func TestMergeCandidates(t *testing.T) {
	shared := mergeCandidates([]fileResult{
		{candidates: map[string]uint{"111": 1 << 0, "222": 1 << 0}},
		{candidates: map[string]uint{"111": 1 << 1, "333": 1 << 1}},
		{candidates: map[string]uint{"333": 1 << 2, "111": 1 << 2}},
	})

	// "222" only tested positive from one file: a bloom false positive.
	assert.Equal(t, map[string]int{"111": 0, "333": 1}, shared)
}

func TestFindSharedBarcodes(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeFeed(t, dir, "a.jsonl.gz",
			`{"id":"milk","name":"Milk","barcode":"4820000000011","sellPrice":1.8}`,
			`{"id":"bread","name":"Bread","barcode":"4820000000035","sellPrice":1.2}`,
		),
		writeFeed(t, dir, "b.jsonl.gz",
			`{"id":"milk-b","name":"Milk B","barcode":"4820000000011","sellPrice":1.7}`,
			`not a product`,
			`{"id":"cheese","name":"Cheese","sellPrice":10}`,
		),
	}

	ctx := context.Background()
	filters, err := buildBloomFilters(ctx, files)
	require.NoError(t, err)
	require.Len(t, filters, 2)
	assert.True(t, filters[0].TestString("4820000000035"))

	shared, err := findSharedBarcodes(ctx, files, filters)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"4820000000011": 0}, shared)
}

func TestStreamFeed_SkipsBadLines(t *testing.T) {
	path := writeFeed(t, t.TempDir(), "feed.jsonl.gz",
		`{"id":"a","name":"A"}`,
		``,
		`{"id":"b"}`,
		`{"id":"c","name":"C"}`,
	)

	var ids []string
	require.NoError(t, streamFeed(context.Background(), path, func(p product.Product) {
		ids = append(ids, p.ID)
	}))
	assert.Equal(t, []string{"a", "c"}, ids)
}

func TestStreamFeed_Cancelled(t *testing.T) {
	path := writeFeed(t, t.TempDir(), "feed.jsonl.gz", `{"id":"a","name":"A"}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := streamFeed(ctx, path, func(product.Product) {})
	require.ErrorIs(t, err, context.Canceled)
}
