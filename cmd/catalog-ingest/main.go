package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"slices"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/pos-checkout/internal/domain/product"
	"github.com/xenking/pos-checkout/internal/repository"
)

const (
	bloomCapacity = 5_000_000
	bloomFPR      = 0.001
	progressEvery = 100_000
	batchSize     = 500
	maxLineBytes  = 64 * 1024
)

// fileResult holds barcodes of one feed that tested positive in another feed's filter.
type fileResult struct {
	candidates map[string]uint
}

func main() {
	var (
		dataDir     string
		databaseURL string
		dryRun      bool
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing supplier feeds (*.jsonl.gz)")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.BoolVar(&dryRun, "dry-run", false, "parse and report conflicts without writing")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL, dryRun); err != nil {
		slog.Error("catalog ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("catalog ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string, dryRun bool) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.jsonl.gz"))
	if err != nil {
		return errors.Wrap(err, "list feeds")
	}
	if len(files) == 0 {
		return errors.Errorf("no *.jsonl.gz feeds in %s", dataDir)
	}
	if len(files) > bits.UintSize {
		return errors.Errorf("at most %d feeds per run, got %d", bits.UintSize, len(files))
	}
	slices.Sort(files)

	// Pass 1: Build bloom filters concurrently.
	slog.Info("pass 1: building barcode filters", slog.Int("files", len(files)))

	filters, err := buildBloomFilters(ctx, files)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	// Pass 2: Find barcodes listed by 2+ feeds.
	slog.Info("pass 2: finding shared barcodes")

	shared, err := findSharedBarcodes(ctx, files, filters)
	if err != nil {
		return errors.Wrap(err, "find shared barcodes")
	}

	slog.Info("shared barcodes found", slog.Int("count", len(shared)))

	if dryRun {
		return nil
	}

	// Pass 3: Write products. The first feed listing a shared barcode keeps it.
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := writeProducts(ctx, repository.NewProductRepository(pool), files, shared); err != nil {
		return errors.Wrap(err, "write products to database")
	}

	return nil
}

// buildBloomFilters creates one bloom filter per file, concurrently.
func buildBloomFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(buildFilterForFile(ctx, i, f, filters))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return filters, nil
}

func buildFilterForFile(ctx context.Context, idx int, path string, filters []*bloom.BloomFilter) func() error {
	return func() error {
		filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
		var count uint64

		if err := streamFeed(ctx, path, func(p product.Product) {
			if p.Barcode == "" {
				return
			}
			filter.AddString(p.Barcode)
			count++
			if count%progressEvery == 0 {
				slog.Info("pass 1 progress", slog.String("file", filepath.Base(path)), slog.Uint64("barcodes", count))
			}
		}); err != nil {
			return errors.Wrapf(err, "build filter for %s", path)
		}

		slog.Info("pass 1 complete", slog.String("file", filepath.Base(path)), slog.Uint64("barcodes", count))

		filters[idx] = filter
		return nil
	}
}

// findSharedBarcodes re-streams each file and checks barcodes against OTHER
// files' filters. It returns, for every barcode present in 2+ files, the
// index of the first file listing it.
func findSharedBarcodes(ctx context.Context, files []string, filters []*bloom.BloomFilter) (map[string]int, error) {
	results := make([]fileResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(findCandidatesInFile(ctx, i, f, filters, results))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return mergeCandidates(results), nil
}

// mergeCandidates ORs the per-file bitmasks. A bloom false positive sets only
// one bit, so requiring two bits keeps just the barcodes really listed twice.
func mergeCandidates(results []fileResult) map[string]int {
	merged := make(map[string]uint)
	for _, r := range results {
		for code, mask := range r.candidates {
			merged[code] |= mask
		}
	}

	shared := make(map[string]int)
	for code, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			shared[code] = bits.TrailingZeros(mask)
		}
	}
	return shared
}

func findCandidatesInFile(
	ctx context.Context,
	idx int,
	path string,
	filters []*bloom.BloomFilter,
	results []fileResult,
) func() error {
	return func() error {
		candidates := make(map[string]uint)
		fileBit := uint(1) << uint(idx)

		if err := streamFeed(ctx, path, func(p product.Product) {
			if p.Barcode == "" {
				return
			}
			for j, f := range filters {
				if j == idx {
					continue
				}
				if f.TestString(p.Barcode) {
					candidates[p.Barcode] |= fileBit
					break
				}
			}
		}); err != nil {
			return errors.Wrapf(err, "scan %s for shared barcodes", path)
		}

		slog.Info("pass 2 complete", slog.String("file", filepath.Base(path)), slog.Int("candidates", len(candidates)))

		results[idx] = fileResult{candidates: candidates}
		return nil
	}
}

// writeProducts streams the feeds in order and upserts products in batches.
func writeProducts(ctx context.Context, repo *repository.ProductRepository, files []string, shared map[string]int) error {
	batch := make([]product.Product, 0, batchSize)
	var written, cleared int

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := repo.Upsert(ctx, batch)
		written += n
		batch = batch[:0]
		if err != nil {
			return err
		}
		return nil
	}

	for idx, path := range files {
		var flushErr error
		err := streamFeed(ctx, path, func(p product.Product) {
			if flushErr != nil {
				return
			}
			if owner, ok := shared[p.Barcode]; ok && owner != idx {
				slog.Warn("barcode already listed by an earlier feed, importing without it",
					slog.String("product_id", p.ID),
					slog.String("barcode", p.Barcode),
					slog.String("file", filepath.Base(path)),
				)
				p.Barcode = ""
				cleared++
			}
			batch = append(batch, p)
			if len(batch) == batchSize {
				flushErr = flush()
			}
		})
		if flushErr != nil {
			return flushErr
		}
		if err != nil {
			return errors.Wrapf(err, "import %s", path)
		}
		slog.Info("write progress", slog.String("file", filepath.Base(path)), slog.Int("written", written))
	}
	if err := flush(); err != nil {
		return err
	}

	slog.Info("products written", slog.Int("written", written), slog.Int("barcodes_cleared", cleared))
	return nil
}

// streamFeed opens a gzip-compressed JSON-lines feed and calls fn for each
// valid product. Malformed lines are logged and skipped.
func streamFeed(ctx context.Context, path string, fn func(p product.Product)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	line := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		p, err := parseProduct(raw)
		if err != nil {
			slog.Warn("skipping feed line",
				slog.String("file", filepath.Base(path)),
				slog.Int("line", line),
				slog.String("error", err.Error()),
			)
			continue
		}
		fn(p)
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}

// parseProduct decodes one feed line.
func parseProduct(raw []byte) (product.Product, error) {
	var p product.Product
	d := jx.DecodeBytes(raw)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			p.ID, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "barcode":
			p.Barcode, err = optStr(d)
		case "categoryId":
			p.CategoryID, err = optStr(d)
		case "unit":
			p.Unit, err = optStr(d)
		case "unitType":
			var s string
			s, err = optStr(d)
			p.UnitType = product.UnitType(s)
		case "image":
			p.Image, err = optStr(d)
		case "stock":
			p.Stock, err = readDecimal(d)
		case "buyPrice":
			p.BuyPrice, err = readDecimal(d)
		case "sellPrice":
			p.SellPrice, err = readDecimal(d)
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		return product.Product{}, errors.Wrap(err, "decode")
	}

	switch {
	case p.ID == "" || p.Name == "":
		return product.Product{}, errors.New("id and name are required")
	case p.SellPrice.IsNegative() || p.BuyPrice.IsNegative():
		return product.Product{}, errors.Errorf("product %s has a negative price", p.ID)
	case p.UnitType != "" && p.UnitType != product.UnitPiece && p.UnitType != product.UnitWeight:
		return product.Product{}, errors.Errorf("product %s has unknown unit type %q", p.ID, p.UnitType)
	}
	return p, nil
}

func optStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func readDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	}
	n, err := d.Num()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(n.String())
}
