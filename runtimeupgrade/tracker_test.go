package runtimeupgrade

import (
	"testing"

	"github.com/qdrvm/kagome-sub006/primitives"
)

// fakeAncestry treats every block as an ancestor of every later block
// with the same tag prefix scheme used in the tests below: block n is
// an ancestor of block m iff n <= m.
type fakeAncestry struct{}

func (fakeAncestry) IsAncestorOf(ancestor, descendant primitives.Hash) bool {
	return ancestor[0] <= descendant[0]
}

func bi(n uint64, tag byte) primitives.BlockInfo {
	var h primitives.Hash
	h[0] = tag
	return primitives.BlockInfo{Number: primitives.BlockNumber(n), Hash: h}
}

func TestGetLastCodeUpdateStateFallsBackToGenesis(t *testing.T) {
	var genesisRoot primitives.Hash
	genesisRoot[0] = 0xAA
	tr := New(genesisRoot, fakeAncestry{})

	got := tr.GetLastCodeUpdateState(bi(3, 3))
	if got != genesisRoot {
		t.Fatalf("expected genesis fallback, got %v", got)
	}
}

func TestGetLastCodeUpdateStateFindsGreatestAncestor(t *testing.T) {
	var genesisRoot, root5, root10 primitives.Hash
	genesisRoot[0], root5[0], root10[0] = 0xAA, 0x05, 0x0A
	tr := New(genesisRoot, fakeAncestry{})

	tr.OnCodeChanged(bi(10, 10), root10)
	tr.OnCodeChanged(bi(5, 5), root5)

	if got := tr.GetLastCodeUpdateState(bi(7, 7)); got != root5 {
		t.Fatalf("expected root5 as the greatest ancestor <= block 7, got %v", got)
	}
	if got := tr.GetLastCodeUpdateState(bi(12, 12)); got != root10 {
		t.Fatalf("expected root10 for block 12, got %v", got)
	}
	if got := tr.GetLastCodeUpdateState(bi(3, 3)); got != genesisRoot {
		t.Fatalf("expected genesis fallback below the earliest entry, got %v", got)
	}
}

func TestOnCodeChangedKeepsEntriesSorted(t *testing.T) {
	var genesisRoot primitives.Hash
	tr := New(genesisRoot, fakeAncestry{})

	tr.OnCodeChanged(bi(20, 20), primitives.Hash{20: 1})
	tr.OnCodeChanged(bi(5, 5), primitives.Hash{5: 1})
	tr.OnCodeChanged(bi(10, 10), primitives.Hash{10: 1})

	for i := 1; i < len(tr.entries); i++ {
		if tr.entries[i-1].block.Number > tr.entries[i].block.Number {
			t.Fatalf("entries not sorted: %v", tr.entries)
		}
	}
}
