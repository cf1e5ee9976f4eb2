package udbe

import (
	"fmt"
	"log/slog"

	"udbe/block"
	"udbe/blockcache"
	"udbe/blockio"
	"udbe/heap"
	"udbe/multiindex"
)

func openLayer(path string, create bool, o *options) (*block.Layer, error) {
	var dev *blockio.Device
	var err error
	if create {
		dev, err = blockio.OpenNew(path)
	} else {
		dev, err = blockio.OpenExisting(path)
	}
	if err != nil {
		return nil, err
	}

	cache, err := blockcache.New(o.cacheBytes)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("udbe: build block cache: %w", err)
	}
	return block.New(dev, cache), nil
}

// CreateMultiIndex creates a brand-new, empty MultiIndex file at path.
func CreateMultiIndex(path string, opts ...Option) (*multiindex.MultiIndex, error) {
	o := apply(opts)
	bl, err := openLayer(path, true, o)
	if err != nil {
		return nil, err
	}
	o.logger.Info("creating multiindex file", slog.String("path", path))
	return multiindex.CreateFile(bl)
}

// OpenMultiIndex opens an existing MultiIndex file at path.
func OpenMultiIndex(path string, opts ...Option) (*multiindex.MultiIndex, error) {
	o := apply(opts)
	bl, err := openLayer(path, false, o)
	if err != nil {
		return nil, err
	}
	o.logger.Info("opening multiindex file", slog.String("path", path))
	mi, err := multiindex.OpenFile(bl)
	if err != nil {
		return nil, err
	}
	o.logger.Debug("multiindex file opened", slog.Int("num_indexes", mi.NumIndexes()))
	return mi, nil
}

// IndexSpec mirrors multiindex.IndexSpec, re-exported so callers need only
// import the udbe facade for the common construction path. CreateIndex
// below folds in its call's batch-size options when the caller leaves
// them at zero.
type IndexSpec = multiindex.IndexSpec

// CreateIndex adds a new index to mi, applying this call's WithNodeBatch
// / WithLeafBatch options as the spec's defaults when it leaves them
// unset.
func CreateIndex(mi *multiindex.MultiIndex, spec IndexSpec, opts ...Option) (*multiindex.Index, error) {
	o := apply(opts)
	if spec.NodeBatchSize == 0 {
		spec.NodeBatchSize = o.nodeBatch
	}
	if spec.LeafBatchSize == 0 {
		spec.LeafBatchSize = o.leafBatch
	}
	o.logger.Info("creating index", slog.String("label", spec.Label), slog.String("key_type", spec.KeyType.String()))
	return mi.CreateIndex(spec)
}

// CreateHeap creates a brand-new, empty HeapFile at path.
func CreateHeap(path string, opts ...Option) (*heap.File, error) {
	o := apply(opts)
	bl, err := openLayer(path, true, o)
	if err != nil {
		return nil, err
	}
	o.logger.Info("creating heap file", slog.String("path", path), slog.Int("holes_table_size", o.holesTableCap))
	return heap.CreateFile(bl, o.holesTableCap)
}

// OpenHeap opens an existing HeapFile at path.
func OpenHeap(path string, opts ...Option) (*heap.File, error) {
	o := apply(opts)
	bl, err := openLayer(path, false, o)
	if err != nil {
		return nil, err
	}
	o.logger.Info("opening heap file", slog.String("path", path))
	return heap.OpenFile(bl)
}
