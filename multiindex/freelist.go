package multiindex

import "fmt"

// allocNode returns a fresh, zeroed node block ready to be filled in and
// written. It first drains the index's free chain (grounded on
// disk_manager's AllocatePage reuse pattern); once that chain is empty it
// pre-creates a whole batch of NodeBatch blank blocks at EOF in one pass
// and links all but the first onto the free chain, so the common case of
// repeated splits does not grow the file one block at a time.
func (ix *Index) allocNode() (int64, *node, error) {
	if ix.info.FreeNode == noPos {
		if _, err := ix.growNodeBatch(); err != nil {
			return 0, nil, err
		}
	}
	pos := ix.info.FreeNode
	freed, err := ix.readNode(pos)
	if err != nil {
		return 0, nil, err
	}
	ix.info.FreeNode = freed.NextNode
	return pos, newNode(int(ix.info.MaxItems), int(ix.info.KeySize)), nil
}

// growNodeBatch appends NodeBatch blank node blocks at EOF, linking them
// together into a free chain, and returns the position of the first one.
func (ix *Index) growNodeBatch() (int64, error) {
	count := int(ix.info.NodeBatch)
	if count <= 0 {
		count = defaultBatchSize
	}

	start, err := ix.mi.bl.Device().Size()
	if err != nil {
		return 0, fmt.Errorf("multiindex: grow node batch: %w", err)
	}
	size := int64(ix.nodeSize())

	positions := make([]int64, count)
	for i := 0; i < count; i++ {
		positions[i] = start + int64(i)*size
	}
	for i, pos := range positions {
		blank := newNode(int(ix.info.MaxItems), int(ix.info.KeySize))
		if i+1 < count {
			blank.NextNode = positions[i+1]
		} else {
			blank.NextNode = noPos
		}
		if err := ix.writeNode(pos, blank); err != nil {
			return 0, err
		}
	}
	ix.info.FreeNode = positions[0]
	return positions[0], nil
}

// freeNode retires pos, prepending it to the free chain for reuse by a
// later allocNode. It is overwritten on disk with a blank node whose
// NextNode splices it into the chain.
func (ix *Index) freeNode(pos int64) error {
	blank := newNode(int(ix.info.MaxItems), int(ix.info.KeySize))
	blank.NextNode = ix.info.FreeNode
	if err := ix.writeNode(pos, blank); err != nil {
		return err
	}
	ix.info.FreeNode = pos
	return nil
}

// allocLeaf mirrors allocNode for the leaf chain's free list.
func (ix *Index) allocLeaf() (int64, *leaf, error) {
	if ix.info.FreeLeaf == noPos {
		if _, err := ix.growLeafBatch(); err != nil {
			return 0, nil, err
		}
	}
	pos := ix.info.FreeLeaf
	freed, err := ix.readLeaf(pos)
	if err != nil {
		return 0, nil, err
	}
	ix.info.FreeLeaf = freed.NextLeaf
	return pos, newLeaf(int(ix.info.KeySize)), nil
}

func (ix *Index) growLeafBatch() (int64, error) {
	count := int(ix.info.LeafBatch)
	if count <= 0 {
		count = defaultBatchSize
	}

	start, err := ix.mi.bl.Device().Size()
	if err != nil {
		return 0, fmt.Errorf("multiindex: grow leaf batch: %w", err)
	}
	size := int64(ix.leafSize())

	positions := make([]int64, count)
	for i := 0; i < count; i++ {
		positions[i] = start + int64(i)*size
	}
	for i, pos := range positions {
		blank := newLeaf(int(ix.info.KeySize))
		if i+1 < count {
			blank.NextLeaf = positions[i+1]
		}
		if err := ix.writeLeaf(pos, blank); err != nil {
			return 0, err
		}
	}
	ix.info.FreeLeaf = positions[0]
	return positions[0], nil
}

// freeLeaf retires pos onto the free leaf chain.
func (ix *Index) freeLeaf(pos int64) error {
	blank := newLeaf(int(ix.info.KeySize))
	blank.NextLeaf = ix.info.FreeLeaf
	if err := ix.writeLeaf(pos, blank); err != nil {
		return err
	}
	ix.info.FreeLeaf = pos
	return nil
}
