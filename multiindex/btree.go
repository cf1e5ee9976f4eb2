package multiindex

import "fmt"

// frame is one level of a root-to-bottom descent: the node visited and the
// item index within it that the descent followed. idx is 1-based, matching
// the items' own 1-indexing.
type frame struct {
	pos int64
	n   *node
	idx int
}

// locate performs the intra-node binary search described in spec.md
// §4.4.1 at every level on the way down (spec.md §4.4.2), eliminating
// the subtree whose item key is known to be too small at each step. It
// returns the root-to-bottom path; the bottom frame's chosen item points
// directly at a leaf.
func (ix *Index) locate(key []byte) ([]frame, error) {
	height := int(ix.info.Height)
	if height == 0 {
		return nil, fmt.Errorf("multiindex: index has no root node")
	}
	path := make([]frame, 0, height)
	pos := ix.info.Root
	for level := 0; level < height; level++ {
		n, err := ix.readNode(pos)
		if err != nil {
			return nil, err
		}
		idx := lowerBoundItem(n, ix.cmp, key)
		path = append(path, frame{pos: pos, n: n, idx: idx})
		pos = n.Items[idx].Child
	}
	return path, nil
}

// lowerBoundItem returns the smallest 1-based item index i such that
// items[i].Key >= key. The rightmost used item always satisfies this
// (its key is the subtree's maximum, ultimately the EOF sentinel), so the
// search never falls off the end of a well-formed node.
func lowerBoundItem(n *node, cmp comparator, key []byte) int {
	lo, hi := 1, n.NumUsed
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp.Compare(n.Items[mid].Key, key) >= 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

// comparator is the subset of keycodec.Comparator this file needs; kept
// as a local interface so tests can supply a fake without importing
// keycodec.
type comparator interface {
	Compare(a, b []byte) int
}

// Find positions the index's cursor on the leaf whose key equals key
// exactly, or returns ErrNotFound and leaves the cursor untouched.
func (ix *Index) Find(key []byte) error {
	if err := ix.checkKeySize(key); err != nil {
		return err
	}
	path, err := ix.locate(key)
	if err != nil {
		return err
	}
	bottom := path[len(path)-1]
	leafPos := bottom.n.Items[bottom.idx].Child
	l, err := ix.readLeaf(leafPos)
	if err != nil {
		return err
	}
	if l.isEOF() || ix.cmp.Compare(l.Key, key) != 0 {
		return ErrNotFound
	}
	ix.cur = leafPos
	return nil
}

// First positions the cursor on the leftmost entry, or leaves it at EOF
// if the index is empty.
func (ix *Index) First() error {
	ix.cur = ix.info.FirstLeaf
	return nil
}

// Next advances the cursor to its successor. Calling Next while at EOF is
// a no-op; calling it in the BOF state (before First/Find) moves to the
// first entry, matching a cursor that starts "before the beginning".
func (ix *Index) Next() error {
	if ix.cur == 0 {
		return ix.First()
	}
	l, err := ix.readLeaf(ix.cur)
	if err != nil {
		return err
	}
	if !l.isEOF() {
		ix.cur = l.NextLeaf
	}
	return nil
}

// Prev retreats the cursor to its predecessor. At the first entry it
// moves to the BOF state (cursor position 0).
func (ix *Index) Prev() error {
	if ix.cur == 0 {
		return nil
	}
	l, err := ix.readLeaf(ix.cur)
	if err != nil {
		return err
	}
	if l.PrevLeaf == noPos {
		ix.cur = 0
		return nil
	}
	ix.cur = l.PrevLeaf
	return nil
}

// Current returns the key and data offset the cursor currently points at.
func (ix *Index) Current() (key []byte, dataPos int64, err error) {
	if ix.IsBOF() {
		return nil, 0, fmt.Errorf("multiindex: cursor is before the first entry")
	}
	if ix.IsEOF() {
		return nil, 0, fmt.Errorf("multiindex: cursor is past the last entry")
	}
	l, err := ix.readLeaf(ix.cur)
	if err != nil {
		return nil, 0, err
	}
	out := make([]byte, len(l.Key))
	copy(out, l.Key)
	return out, l.DataPos, nil
}

// IsBOF reports whether the cursor is positioned before the first entry.
func (ix *Index) IsBOF() bool { return ix.cur == 0 }

// IsEOF reports whether the cursor is positioned on the tail sentinel
// leaf, i.e. past the last real entry.
func (ix *Index) IsEOF() bool { return ix.cur != 0 && ix.cur == ix.info.LastLeaf }

func (ix *Index) checkKeySize(key []byte) error {
	if len(key) != int(ix.info.KeySize) {
		return fmt.Errorf("%w: want %d bytes, got %d", ErrKeySize, ix.info.KeySize, len(key))
	}
	return nil
}

// Insert adds key -> dataPos to the index. On a unique index a key that
// already exists returns ErrDuplicateKey and changes nothing. On a
// non-unique index, inserting a key that already exists overwrites the
// bottom item's child pointer to address the new leaf in place rather
// than growing the node (spec.md §4.4.3 step 4); the leaf it used to
// point at stays threaded into the leaf chain, reachable by a scan but
// no longer by direct descent.
func (ix *Index) Insert(key []byte, dataPos int64) error {
	if err := ix.checkKeySize(key); err != nil {
		return err
	}
	path, err := ix.locate(key)
	if err != nil {
		return err
	}
	bottom := path[len(path)-1]
	targetLeafPos := bottom.n.Items[bottom.idx].Child
	target, err := ix.readLeaf(targetLeafPos)
	if err != nil {
		return err
	}
	duplicate := !target.isEOF() && ix.cmp.Compare(target.Key, key) == 0
	if duplicate && ix.IsUnique() {
		return ErrDuplicateKey
	}

	newLeafPos, newLeafBlk, err := ix.allocLeaf()
	if err != nil {
		return err
	}
	copy(newLeafBlk.Key, key)
	newLeafBlk.DataPos = dataPos
	if err := ix.spliceLeafBefore(targetLeafPos, target, newLeafPos, newLeafBlk); err != nil {
		return err
	}

	if duplicate {
		bottom.n.Items[bottom.idx].Child = newLeafPos
		return ix.writeNode(bottom.pos, bottom.n)
	}

	return ix.insertUp(path, len(path)-1, key, newLeafPos)
}

// spliceLeafBefore inserts newLeaf (at newPos) immediately before target
// (at targetPos) in the doubly-linked leaf chain.
func (ix *Index) spliceLeafBefore(targetPos int64, target *leaf, newPos int64, newLeaf *leaf) error {
	prevPos := target.PrevLeaf
	newLeaf.PrevLeaf = prevPos
	newLeaf.NextLeaf = targetPos
	if prevPos != noPos {
		prev, err := ix.readLeaf(prevPos)
		if err != nil {
			return err
		}
		prev.NextLeaf = newPos
		if err := ix.writeLeaf(prevPos, prev); err != nil {
			return err
		}
	} else {
		ix.info.FirstLeaf = newPos
	}
	target.PrevLeaf = newPos
	if err := ix.writeLeaf(targetPos, target); err != nil {
		return err
	}
	return ix.writeLeaf(newPos, newLeaf)
}

// insertUp inserts (key, child) as a new item at path[level].idx (shifting
// the existing item and everything after it right by one), splitting and
// propagating upward as far as overflow requires.
func (ix *Index) insertUp(path []frame, level int, key []byte, child int64) error {
	if level < 0 {
		return ix.growRoot(key, child)
	}

	fr := path[level]
	insertItem(fr.n, fr.idx, key, child)
	if fr.n.NumUsed <= fr.n.maxItems() {
		return ix.writeNode(fr.pos, fr.n)
	}

	leftPos, leftKey, err := ix.splitNode(fr.pos, fr.n)
	if err != nil {
		return err
	}
	return ix.insertUp(path, level-1, leftKey, leftPos)
}

// insertItem shifts items[idx:NumUsed] right by one slot and writes
// (key, child) into items[idx].
func insertItem(n *node, idx int, key []byte, child int64) {
	for i := n.NumUsed + 1; i > idx; i-- {
		n.Items[i].Child = n.Items[i-1].Child
		copy(n.Items[i].Key, n.Items[i-1].Key)
	}
	copy(n.Items[idx].Key, key)
	n.Items[idx].Child = child
	n.NumUsed++
}

// splitNode moves the lower half of n's items into a freshly allocated
// node and keeps the upper half (including n's own maximum-key item,
// whose value never changes) at n's original position, so no parent
// pointer to n itself needs to change. It returns the new node's
// position and the key the caller should insert into the parent to
// reference it.
func (ix *Index) splitNode(pos int64, n *node) (leftPos int64, leftKey []byte, err error) {
	total := n.NumUsed
	mid := (total + 1) / 2

	newPos, newN, err := ix.allocNode()
	if err != nil {
		return 0, nil, err
	}
	for i := 1; i <= mid; i++ {
		copy(newN.Items[i].Key, n.Items[i].Key)
		newN.Items[i].Child = n.Items[i].Child
	}
	newN.NumUsed = mid

	for i := 1; i <= total-mid; i++ {
		copy(n.Items[i].Key, n.Items[mid+i].Key)
		n.Items[i].Child = n.Items[mid+i].Child
	}
	n.NumUsed = total - mid

	newN.PrevNode = n.PrevNode
	newN.NextNode = pos
	if n.PrevNode != noPos {
		prev, err := ix.readNode(n.PrevNode)
		if err != nil {
			return 0, nil, err
		}
		prev.NextNode = newPos
		if err := ix.writeNode(n.PrevNode, prev); err != nil {
			return 0, nil, err
		}
	}
	n.PrevNode = newPos

	if err := ix.writeNode(newPos, newN); err != nil {
		return 0, nil, err
	}
	if err := ix.writeNode(pos, n); err != nil {
		return 0, nil, err
	}

	key := make([]byte, len(newN.Items[mid].Key))
	copy(key, newN.Items[mid].Key)
	return newPos, key, nil
}

// Delete removes every entry matching key from the index (spec.md
// §4.4.4's delete_all). Only the newest duplicate is ever addressed
// directly by a bottom node item (see Insert); delete_all first walks
// the leaf chain forward from that hit, freeing every further leaf
// whose key still compares equal, then removes the item itself. It
// returns ErrDeleteNotAllowed if the index was not created with
// AttrAllowDelete, and ErrNotFound if the key is absent.
func (ix *Index) Delete(key []byte) error {
	if !ix.CanDelete() {
		return ErrDeleteNotAllowed
	}
	if err := ix.checkKeySize(key); err != nil {
		return err
	}
	path, err := ix.locate(key)
	if err != nil {
		return err
	}
	bottom := path[len(path)-1]
	headPos := bottom.n.Items[bottom.idx].Child
	head, err := ix.readLeaf(headPos)
	if err != nil {
		return err
	}
	if head.isEOF() || ix.cmp.Compare(head.Key, key) != 0 {
		return ErrNotFound
	}

	pos := head.NextLeaf
	for {
		l, err := ix.readLeaf(pos)
		if err != nil {
			return err
		}
		if l.isEOF() || ix.cmp.Compare(l.Key, key) != 0 {
			break
		}
		next := l.NextLeaf
		if err := ix.freeShadowLeaf(pos, l); err != nil {
			return err
		}
		pos = next
	}

	// Re-read head: freeing shadow duplicates rewrote its NextLeaf on
	// disk as the chain compacted around it.
	head, err = ix.readLeaf(headPos)
	if err != nil {
		return err
	}
	return ix.removeLeafAt(path, headPos, head)
}

// freeShadowLeaf unlinks and frees a duplicate leaf that no bottom node
// item addresses directly — it never touches the tree structure, only
// the leaf chain.
func (ix *Index) freeShadowLeaf(pos int64, l *leaf) error {
	if err := ix.unlinkLeaf(pos, l); err != nil {
		return err
	}
	if ix.cur == pos {
		ix.cur = l.NextLeaf
	}
	return ix.freeLeaf(pos)
}

// removeLeafAt unlinks and frees l (at pos), removes its item from the
// bottom frame of path, and propagates the resulting node underflow
// upward. The caller must already know no surviving duplicate needs to
// take over the item; it is always the last leaf addressing that key.
func (ix *Index) removeLeafAt(path []frame, pos int64, l *leaf) error {
	bottom := path[len(path)-1]
	if err := ix.unlinkLeaf(pos, l); err != nil {
		return err
	}
	if ix.cur == pos {
		ix.cur = l.NextLeaf
	}
	if err := ix.freeLeaf(pos); err != nil {
		return err
	}
	removeItem(bottom.n, bottom.idx)
	// If the removed item was the node's last, its separator in the parent
	// (and further up, while that slot is its parent's last) drops to the
	// node's new maximum key.
	if bottom.idx > bottom.n.NumUsed && bottom.n.NumUsed > 0 {
		for l := len(path) - 1; l > 0; l-- {
			child, parent := path[l], path[l-1]
			copy(parent.n.Items[parent.idx].Key, child.n.Items[child.n.NumUsed].Key)
			if err := ix.writeNode(parent.pos, parent.n); err != nil {
				return err
			}
			if parent.idx != parent.n.NumUsed {
				break
			}
		}
	}
	return ix.afterRemoval(path, len(path)-1)
}

// DeleteCurrent removes the entry the cursor currently points at and
// returns the data position it used to hold (spec.md §4.4.4's
// delete_current). Only the newest duplicate of a key is addressed by a
// bottom node item; an older duplicate is a "shadow" leaf reachable only
// through the chain, and freeing it never touches the tree. Removing
// the addressed leaf itself either hands the item over to the next
// surviving duplicate, if one follows with the same key, or removes the
// item outright.
func (ix *Index) DeleteCurrent() (int64, error) {
	if !ix.CanDelete() {
		return 0, ErrDeleteNotAllowed
	}
	if ix.IsBOF() {
		return 0, fmt.Errorf("multiindex: cursor is before the first entry")
	}
	if ix.IsEOF() {
		return 0, fmt.Errorf("multiindex: cursor is past the last entry")
	}
	pos := ix.cur
	l, err := ix.readLeaf(pos)
	if err != nil {
		return 0, err
	}
	dataPos := l.DataPos

	path, err := ix.locate(l.Key)
	if err != nil {
		return 0, err
	}
	bottom := path[len(path)-1]

	if bottom.n.Items[bottom.idx].Child != pos {
		if err := ix.freeShadowLeaf(pos, l); err != nil {
			return 0, err
		}
		return dataPos, nil
	}

	nextPos := l.NextLeaf
	next, err := ix.readLeaf(nextPos)
	if err != nil {
		return 0, err
	}
	if !next.isEOF() && ix.cmp.Compare(next.Key, l.Key) == 0 {
		if err := ix.unlinkLeaf(pos, l); err != nil {
			return 0, err
		}
		if ix.cur == pos {
			ix.cur = l.NextLeaf
		}
		if err := ix.freeLeaf(pos); err != nil {
			return 0, err
		}
		bottom.n.Items[bottom.idx].Child = nextPos
		if err := ix.writeNode(bottom.pos, bottom.n); err != nil {
			return 0, err
		}
		return dataPos, nil
	}

	if err := ix.removeLeafAt(path, pos, l); err != nil {
		return 0, err
	}
	return dataPos, nil
}

// unlinkLeaf splices l (at pos) out of the leaf chain without freeing it;
// the caller frees it separately once the splice is done.
func (ix *Index) unlinkLeaf(pos int64, l *leaf) error {
	if l.PrevLeaf != noPos {
		prev, err := ix.readLeaf(l.PrevLeaf)
		if err != nil {
			return err
		}
		prev.NextLeaf = l.NextLeaf
		if err := ix.writeLeaf(l.PrevLeaf, prev); err != nil {
			return err
		}
	} else {
		ix.info.FirstLeaf = l.NextLeaf
	}
	next, err := ix.readLeaf(l.NextLeaf)
	if err != nil {
		return err
	}
	next.PrevLeaf = l.PrevLeaf
	return ix.writeLeaf(l.NextLeaf, next)
}

// removeItem shifts items[idx+1:NumUsed+1] left by one slot, overwriting
// items[idx].
func removeItem(n *node, idx int) {
	for i := idx; i < n.NumUsed; i++ {
		copy(n.Items[i].Key, n.Items[i+1].Key)
		n.Items[i].Child = n.Items[i+1].Child
	}
	n.NumUsed--
}

// afterRemoval handles the node at path[level], which has just lost one
// item, borrowing from or merging with a same-parent sibling if it has
// dropped below the minimum fan-out, and recursing upward when a merge
// shrinks the parent in turn (spec.md §4.4.4's Done/LastChanged/Removed
// propagation).
func (ix *Index) afterRemoval(path []frame, level int) error {
	fr := path[level]

	if level == 0 {
		if ix.info.Height > 1 && fr.n.NumUsed == 1 {
			childPos := fr.n.Items[1].Child
			if err := ix.freeNode(fr.pos); err != nil {
				return err
			}
			ix.info.Root = childPos
			ix.info.Height--
			return nil
		}
		return ix.writeNode(fr.pos, fr.n)
	}

	minItems := (fr.n.maxItems() + 1) / 2
	if fr.n.NumUsed >= minItems {
		return ix.writeNode(fr.pos, fr.n)
	}

	parent := path[level-1]

	if parent.idx > 1 {
		leftPos := parent.n.Items[parent.idx-1].Child
		left, err := ix.readNode(leftPos)
		if err != nil {
			return err
		}
		if left.NumUsed > minItems {
			borrowFromLeft(left, fr.n)
			if err := ix.writeNode(leftPos, left); err != nil {
				return err
			}
			if err := ix.writeNode(fr.pos, fr.n); err != nil {
				return err
			}
			copy(parent.n.Items[parent.idx-1].Key, left.Items[left.NumUsed].Key)
			return ix.writeNode(parent.pos, parent.n)
		}
	}

	if parent.idx < parent.n.NumUsed {
		rightPos := parent.n.Items[parent.idx+1].Child
		right, err := ix.readNode(rightPos)
		if err != nil {
			return err
		}
		if right.NumUsed > minItems {
			borrowFromRight(fr.n, right)
			if err := ix.writeNode(fr.pos, fr.n); err != nil {
				return err
			}
			if err := ix.writeNode(rightPos, right); err != nil {
				return err
			}
			copy(parent.n.Items[parent.idx].Key, fr.n.Items[fr.n.NumUsed].Key)
			return ix.writeNode(parent.pos, parent.n)
		}
	}

	// Neither sibling can lend an item without underflowing itself: merge.
	if parent.idx > 1 {
		leftPos := parent.n.Items[parent.idx-1].Child
		left, err := ix.readNode(leftPos)
		if err != nil {
			return err
		}
		mergeInto(left, fr.n)
		left.NextNode = fr.n.NextNode
		if fr.n.NextNode != noPos {
			if err := ix.relinkNodePrev(fr.n.NextNode, leftPos); err != nil {
				return err
			}
		}
		if err := ix.writeNode(leftPos, left); err != nil {
			return err
		}
		if err := ix.freeNode(fr.pos); err != nil {
			return err
		}
		copy(parent.n.Items[parent.idx-1].Key, left.Items[left.NumUsed].Key)
		removeItem(parent.n, parent.idx)
		return ix.afterRemoval(path, level-1)
	}

	rightPos := parent.n.Items[parent.idx+1].Child
	right, err := ix.readNode(rightPos)
	if err != nil {
		return err
	}
	mergeInto(fr.n, right)
	fr.n.NextNode = right.NextNode
	if right.NextNode != noPos {
		if err := ix.relinkNodePrev(right.NextNode, fr.pos); err != nil {
			return err
		}
	}
	if err := ix.writeNode(fr.pos, fr.n); err != nil {
		return err
	}
	if err := ix.freeNode(rightPos); err != nil {
		return err
	}
	copy(parent.n.Items[parent.idx].Key, fr.n.Items[fr.n.NumUsed].Key)
	removeItem(parent.n, parent.idx+1)
	return ix.afterRemoval(path, level-1)
}

func (ix *Index) relinkNodePrev(pos, newPrev int64) error {
	n, err := ix.readNode(pos)
	if err != nil {
		return err
	}
	n.PrevNode = newPrev
	return ix.writeNode(pos, n)
}

// borrowFromLeft moves left's last item to become right's new first item.
func borrowFromLeft(left, right *node) {
	last := left.Items[left.NumUsed]
	insertItem(right, 1, last.Key, last.Child)
	left.NumUsed--
}

// borrowFromRight moves right's first item to become left's new last item.
func borrowFromRight(left, right *node) {
	first := right.Items[1]
	insertItem(left, left.NumUsed+1, first.Key, first.Child)
	removeItem(right, 1)
}

// mergeInto appends all of src's items to dst.
func mergeInto(dst, src *node) {
	for i := 1; i <= src.NumUsed; i++ {
		insertItem(dst, dst.NumUsed+1, src.Items[i].Key, src.Items[i].Child)
	}
}

// growRoot is called when the root node itself overflowed and split:
// it builds a fresh root one level taller, referencing the new left
// sibling and the old root (now holding the upper half).
func (ix *Index) growRoot(leftKey []byte, leftPos int64) error {
	oldRoot, err := ix.readNode(ix.info.Root)
	if err != nil {
		return err
	}
	newRootPos, newRoot, err := ix.allocNode()
	if err != nil {
		return err
	}
	copy(newRoot.Items[1].Key, leftKey)
	newRoot.Items[1].Child = leftPos
	copy(newRoot.Items[2].Key, oldRoot.Items[oldRoot.NumUsed].Key)
	newRoot.Items[2].Child = ix.info.Root
	newRoot.NumUsed = 2

	if err := ix.writeNode(newRootPos, newRoot); err != nil {
		return err
	}
	ix.info.Root = newRootPos
	ix.info.Height++
	return nil
}
