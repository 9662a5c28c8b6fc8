// Package cassdl contains the core types of cassdl, a library for partitioning labelled image
// collections stored in a row store into balanced, group-respecting splits, and for loading
// those splits as batches of decoded, augmented samples.
// This root package defines the data model shared by every component, as well as the contracts
// a backing store, a decoder and an augmentation must satisfy, and is an excellent overview of
// the library's key concepts.
package cassdl
