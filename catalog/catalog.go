// Package catalog loads the metadata of every row in a backing table and indexes it by label
// and by grouping key.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-sif/cassdl"
	"github.com/go-sif/cassdl/errors"
	"github.com/go-sif/cassdl/internal/util"
	"github.com/go-sif/cassdl/logging"
	"github.com/sirupsen/logrus"
)

// KeySeparator joins the values of multi-column grouping and tag keys
const KeySeparator = "|"

// DefaultLabelColumn is used when Options.LabelColumn is empty
const DefaultLabelColumn = "label"

// Options describe where row metadata lives and how to interpret it
type Options struct {
	Table        string
	IDColumn     string
	LabelColumn  string
	GroupColumns []string
	// TagColumns identify the bag a row belongs to. When empty, the grouping key doubles as the tag.
	TagColumns []string
	NumClasses int
	// LabelMap, if non-nil, translates stored labels before they are validated
	LabelMap map[int]int
	Logger   logrus.FieldLogger
}

func (o *Options) ensureDefaults() error {
	if o.LabelColumn == "" {
		o.LabelColumn = DefaultLabelColumn
	}
	if o.IDColumn == "" {
		return errors.InvalidConfigError{Reason: "catalog id column must be set"}
	}
	if o.Table == "" {
		return errors.InvalidConfigError{Reason: "catalog table must be set"}
	}
	if o.NumClasses < 1 {
		return errors.InvalidConfigf("num_classes must be at least 1, got %d", o.NumClasses)
	}
	o.Logger = logging.OrNop(o.Logger)
	return nil
}

func (o *Options) tagColumns() []string {
	if len(o.TagColumns) == 0 {
		return o.GroupColumns
	}
	return o.TagColumns
}

// Catalog is an immutable, indexed snapshot of row metadata
type Catalog struct {
	opts    Options
	rows    []cassdl.Row
	index   map[cassdl.RowID]int
	byLabel [][]cassdl.RowID
	groups  []string
	byGroup map[string][]cassdl.RowID
}

// JoinKey joins the parts of a composite key
func JoinKey(parts ...string) string {
	return strings.Join(parts, KeySeparator)
}

// Load scans the catalog table once and builds a Catalog
func Load(ctx context.Context, src cassdl.Source, opts Options) (*Catalog, error) {
	if err := opts.ensureDefaults(); err != nil {
		return nil, err
	}
	available, err := src.Columns(ctx, opts.Table)
	if err != nil {
		return nil, err
	}
	present := make(map[string]bool, len(available))
	for _, c := range available {
		present[c] = true
	}
	tagCols := opts.tagColumns()
	columns := []string{opts.IDColumn, opts.LabelColumn}
	columns = append(columns, opts.GroupColumns...)
	columns = append(columns, tagCols...)
	for _, c := range columns {
		if !present[c] {
			return nil, errors.SchemaError{Table: opts.Table, Column: c, Reason: "column does not exist"}
		}
	}

	b := newBuilder(opts)
	numGroup := len(opts.GroupColumns)
	err = src.Scan(ctx, opts.Table, columns, func(values []interface{}) error {
		row, err := b.parse(values[0], values[1], values[2:2+numGroup], values[2+numGroup:])
		if err != nil {
			return err
		}
		b.add(row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(b.cat.rows) == 0 {
		return nil, errors.EmptyDatasetError{Table: opts.Table}
	}
	b.cat.buildIndices()
	opts.Logger.WithFields(logrus.Fields{
		"table":  opts.Table,
		"rows":   len(b.cat.rows),
		"groups": len(b.cat.groups),
	}).Info("Loaded catalog")
	return b.cat, nil
}

type builder struct {
	cat *Catalog
}

func newBuilder(opts Options) *builder {
	return &builder{cat: &Catalog{
		opts:  opts,
		index: make(map[cassdl.RowID]int),
	}}
}

func (b *builder) parse(idVal interface{}, labelVal interface{}, groupVals []interface{}, tagVals []interface{}) (cassdl.Row, error) {
	opts := b.cat.opts
	id, ok := util.ToKey(idVal)
	if !ok {
		return cassdl.Row{}, errors.SchemaError{Table: opts.Table, Column: opts.IDColumn, Reason: "row id is null"}
	}
	label, err := util.ToInt(labelVal)
	if err != nil {
		return cassdl.Row{}, errors.SchemaError{Table: opts.Table, Column: opts.LabelColumn, Reason: err.Error()}
	}
	if opts.LabelMap != nil {
		mapped, ok := opts.LabelMap[label]
		if !ok {
			return cassdl.Row{}, errors.SchemaError{Table: opts.Table, Column: opts.LabelColumn, Reason: fmt.Sprintf("label %d is not in the label map", label)}
		}
		label = mapped
	}
	if label < 0 || label >= opts.NumClasses {
		return cassdl.Row{}, errors.SchemaError{
			Table:  opts.Table,
			Column: opts.LabelColumn,
			Reason: fmt.Sprintf("label %d of row %s is outside [0, %d)", label, id, opts.NumClasses),
		}
	}
	row := cassdl.Row{ID: id, Label: label}
	row.Group, row.HasGroup = compositeKey(groupVals)
	row.Tag, row.HasTag = compositeKey(tagVals)
	return row, nil
}

// compositeKey joins values into a key; a key with any null part is absent
func compositeKey(values []interface{}) (string, bool) {
	if len(values) == 0 {
		return "", false
	}
	parts := make([]string, len(values))
	for i, v := range values {
		k, ok := util.ToKey(v)
		if !ok {
			return "", false
		}
		parts[i] = k
	}
	return JoinKey(parts...), true
}

// add appends a row, or replaces an earlier row with the same id in place
func (b *builder) add(row cassdl.Row) {
	if pos, ok := b.cat.index[row.ID]; ok {
		b.cat.rows[pos] = row
		return
	}
	b.cat.index[row.ID] = len(b.cat.rows)
	b.cat.rows = append(b.cat.rows, row)
}

func (c *Catalog) buildIndices() {
	c.byLabel = make([][]cassdl.RowID, c.opts.NumClasses)
	c.byGroup = make(map[string][]cassdl.RowID)
	c.groups = nil
	for _, row := range c.rows {
		c.byLabel[row.Label] = append(c.byLabel[row.Label], row.ID)
		if row.HasGroup {
			if _, seen := c.byGroup[row.Group]; !seen {
				c.groups = append(c.groups, row.Group)
			}
			c.byGroup[row.Group] = append(c.byGroup[row.Group], row.ID)
		}
	}
}

// Len returns the number of rows in this Catalog
func (c *Catalog) Len() int {
	return len(c.rows)
}

// NumClasses returns the number of label classes
func (c *Catalog) NumClasses() int {
	return c.opts.NumClasses
}

// Table returns the name of the table this Catalog was loaded from
func (c *Catalog) Table() string {
	return c.opts.Table
}

// Options returns the options this Catalog was built with
func (c *Catalog) Options() Options {
	return c.opts
}

// Matches returns true iff opts describe the same table, columns, classes and label mapping
// as the options this Catalog was built with. Loggers are ignored.
func (c *Catalog) Matches(opts Options) bool {
	if opts.LabelColumn == "" {
		opts.LabelColumn = DefaultLabelColumn
	}
	have := c.opts
	if opts.Table != have.Table || opts.IDColumn != have.IDColumn || opts.LabelColumn != have.LabelColumn || opts.NumClasses != have.NumClasses {
		return false
	}
	if !sameColumns(opts.GroupColumns, have.GroupColumns) || !sameColumns(opts.TagColumns, have.TagColumns) {
		return false
	}
	if len(opts.LabelMap) != len(have.LabelMap) || (opts.LabelMap == nil) != (have.LabelMap == nil) {
		return false
	}
	for k, v := range opts.LabelMap {
		if hv, ok := have.LabelMap[k]; !ok || hv != v {
			return false
		}
	}
	return true
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Grouped returns true iff this Catalog was loaded with grouping columns
func (c *Catalog) Grouped() bool {
	return len(c.opts.GroupColumns) > 0
}

// Row returns the metadata of a row
func (c *Catalog) Row(id cassdl.RowID) (cassdl.Row, bool) {
	pos, ok := c.index[id]
	if !ok {
		return cassdl.Row{}, false
	}
	return c.rows[pos], true
}

// Position returns the insertion position of a row, or -1 if it is unknown
func (c *Catalog) Position(id cassdl.RowID) int {
	pos, ok := c.index[id]
	if !ok {
		return -1
	}
	return pos
}

// Rows returns every row, in insertion order. The result must not be modified.
func (c *Catalog) Rows() []cassdl.Row {
	return c.rows
}

// IDsForLabel returns the ids of every row with the given label, in insertion order
func (c *Catalog) IDsForLabel(label int) []cassdl.RowID {
	if label < 0 || label >= len(c.byLabel) {
		return nil
	}
	return c.byLabel[label]
}

// Groups returns every grouping key, in order of first appearance
func (c *Catalog) Groups() []string {
	return c.groups
}

// IDsForGroup returns the ids of every row in a group, in insertion order
func (c *Catalog) IDsForGroup(group string) []cassdl.RowID {
	return c.byGroup[group]
}

// ClassCounts returns the number of rows per label
func (c *Catalog) ClassCounts() []int {
	counts := make([]int, len(c.byLabel))
	for l, ids := range c.byLabel {
		counts[l] = len(ids)
	}
	return counts
}
