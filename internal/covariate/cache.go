package covariate

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// #region cache
// Cache stores covariate records keyed by (year, month). Writes are
// idempotent: storing the same key twice keeps the latest value.
type Cache interface {
	Load(ctx context.Context, fromYear, toYear int) ([]Record, error)
	Store(ctx context.Context, records []Record) error
}

// #endregion cache

// #region file-cache
// FileCache is a flat CSV cache with year,month,value rows.
type FileCache struct {
	path string
	mu   sync.Mutex
}

// NewFileCache returns a cache backed by the given CSV path. The file is
// created on first Store.
func NewFileCache(path string) *FileCache {
	return &FileCache{path: path}
}

// Load returns the cached records within [fromYear, toYear].
func (c *FileCache) Load(ctx context.Context, fromYear, toYear int) ([]Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	all, err := c.readAll()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(all))
	for _, r := range all {
		if r.Year >= fromYear && r.Year <= toYear {
			out = append(out, r)
		}
	}
	return out, nil
}

// Store merges records into the file, replacing existing keys.
func (c *FileCache) Store(ctx context.Context, records []Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	all, err := c.readAll()
	if err != nil {
		return err
	}
	merged := make(map[Key]float64, len(all)+len(records))
	for _, r := range all {
		merged[Key{r.Year, r.Month}] = r.Value
	}
	for _, r := range records {
		merged[Key{r.Year, r.Month}] = r.Value
	}

	keys := make([]Key, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Year != keys[j].Year {
			return keys[i].Year < keys[j].Year
		}
		return keys[i].Month < keys[j].Month
	})

	tmp := c.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create cache: %w", err)
	}
	w := csv.NewWriter(f)
	_ = w.Write([]string{"year", "month", "value"})
	for _, k := range keys {
		_ = w.Write([]string{
			strconv.Itoa(k.Year),
			strconv.Itoa(k.Month),
			strconv.FormatFloat(merged[k], 'g', -1, 64),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("write cache: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replace cache: %w", err)
	}
	return nil
}

func (c *FileCache) readAll() ([]Record, error) {
	f, err := os.Open(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	defer f.Close()
	records, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("read cache %s: %w", c.path, err)
	}
	return records, nil
}

// #endregion file-cache

// #region csv
// ReadCSV parses year,month,value rows (header required, column order free).
func ReadCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range []string{"year", "month", "value"} {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	var out []Record
	line := 1
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		year, err := strconv.Atoi(strings.TrimSpace(row[cols["year"]]))
		if err != nil {
			return nil, fmt.Errorf("line %d: year: %w", line, err)
		}
		month, err := strconv.Atoi(strings.TrimSpace(row[cols["month"]]))
		if err != nil || month < 1 || month > 12 {
			return nil, fmt.Errorf("line %d: invalid month %q", line, row[cols["month"]])
		}
		raw := strings.TrimSpace(row[cols["value"]])
		if raw == "" || strings.EqualFold(raw, "NA") {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: value: %w", line, err)
		}
		out = append(out, Record{Year: year, Month: month, Value: v})
	}
	return out, nil
}

// #endregion csv
