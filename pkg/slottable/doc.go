// Package slottable stores the structure and remembered values of a
// composition.
//
// A Table is a flat, preorder array of groups. Each group has a key, an
// optional object key for movable content, a size covering its subtree and a
// range of slots in a shared arena. Because a subtree is a contiguous index
// range, reordering siblings is a single bulk move that keeps every slot
// (and therefore every remembered value and node reference) intact.
//
// All edits go through the table's single Editor. Keys only need to be
// unique among siblings produced by one call site; CallSiteKey derives keys
// from source positions.
package slottable
