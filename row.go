package cassdl

// RowID identifies a row in the backing store. Store-native identifiers (uuids, integers)
// are carried in their canonical string form.
type RowID = string

// Row is the metadata for one image: its id, its class index and, optionally, the key of the
// group it belongs to and the tag which binds it to a pre-assigned bag.
type Row struct {
	ID       RowID
	Label    int
	Group    string
	HasGroup bool
	Tag      string
	HasTag   bool
}

// Split is a named, disjoint subset of the catalog's rows, together with the augmentation
// applied to samples drawn from it and the number of samples per batch.
type Split struct {
	Index        int
	Name         string
	IDs          []RowID
	Augmentation Augmentation
	BatchSize    int
}

// Len returns the number of rows assigned to this Split
func (s Split) Len() int {
	return len(s.IDs)
}

// Sample is a raw payload fetched from the backing store, along with its stored label
type Sample struct {
	Label   int
	Payload []byte
}

// FetchQuery describes where payloads live: the table, the id column, the label column
// (empty if labels are not stored alongside payloads) and the payload column.
type FetchQuery struct {
	Table       string
	IDColumn    string
	LabelColumn string
	DataColumn  string
}
