package grandpa

import (
	"testing"

	"github.com/qdrvm/kagome-sub006/primitives"
)

func blockInfo(n uint64, tag byte) primitives.BlockInfo {
	var h primitives.Hash
	h[0] = tag
	return primitives.BlockInfo{Number: primitives.BlockNumber(n), Hash: h}
}

func authSet(ids ...byte) AuthoritySet {
	out := make(AuthoritySet, len(ids))
	for i, id := range ids {
		out[i].ID[0] = id
		out[i].Weight = 1
	}
	return out
}

func TestScheduledChangeRequiresFinalization(t *testing.T) {
	root := CreateAsRoot(authSet(1, 2), blockInfo(0, 0))
	if err := root.SetAction(ScheduledChange(5, authSet(3, 4))); err != nil {
		t.Fatal(err)
	}

	unfinalized := root.MakeDescendant(blockInfo(5, 1), false)
	if len(unfinalized.Authorities) != 2 {
		t.Fatalf("unfinalized scheduled change must not apply yet, got %d authorities", len(unfinalized.Authorities))
	}

	finalized := root.MakeDescendant(blockInfo(5, 1), true)
	if len(finalized.Authorities) != 2 || finalized.Authorities[0].ID[0] != 3 {
		t.Fatalf("finalized scheduled change at its applied block should apply, got %v", finalized.Authorities)
	}
}

func TestForcedChangeAppliesRegardlessOfFinalization(t *testing.T) {
	root := CreateAsRoot(authSet(1, 2), blockInfo(0, 0))
	if err := root.SetAction(ForcedChange(0, 5, authSet(9))); err != nil {
		t.Fatal(err)
	}
	// ForcedChange applies once DelayStart+DelayLength <= block number,
	// regardless of the finalized flag -- original_source does not gate
	// this action on finalization.
	child := root.MakeDescendant(blockInfo(5, 1), false)
	if len(child.Authorities) != 1 || child.Authorities[0].ID[0] != 9 {
		t.Fatalf("expected forced change to apply unconditionally, got %v", child.Authorities)
	}
}

func TestResumeAppliesRegardlessOfFinalization(t *testing.T) {
	root := CreateAsRoot(authSet(1, 2), blockInfo(0, 0))
	if err := root.SetAction(Pause(1)); err != nil {
		t.Fatal(err)
	}
	paused := root.MakeDescendant(blockInfo(1, 1), true)
	if paused.Enabled {
		t.Fatal("expected GRANDPA to be paused after finalized Pause")
	}
	if err := paused.SetAction(Resume(2)); err != nil {
		t.Fatal(err)
	}
	resumed := paused.MakeDescendant(blockInfo(2, 2), false)
	if !resumed.Enabled {
		t.Fatal("expected Resume to re-enable GRANDPA even when not finalized")
	}
}

func TestSetActionRejectsSecondPending(t *testing.T) {
	root := CreateAsRoot(authSet(1, 2), blockInfo(0, 0))
	if err := root.SetAction(ScheduledChange(5, authSet(3))); err != nil {
		t.Fatal(err)
	}
	if err := root.SetAction(ScheduledChange(6, authSet(4))); err != ErrNoScheduledChangeAppliedYet {
		t.Fatalf("expected ErrNoScheduledChangeAppliedYet, got %v", err)
	}
}

func TestApplyMessageValidatesAuthorityIndex(t *testing.T) {
	root := CreateAsRoot(authSet(1, 2), blockInfo(0, 0))
	msg := Message{Kind: DigestPause, AppliedBlock: 1, AuthorityIndex: 5}
	if err := ApplyMessage(root, msg, 2); err != ErrWrongAuthorityIndex {
		t.Fatalf("expected ErrWrongAuthorityIndex, got %v", err)
	}
}

func TestTreeMakeDescendant(t *testing.T) {
	genesis := blockInfo(0, 0)
	tree := NewTree(authSet(1, 2), genesis)
	target := blockInfo(1, 1)
	child, err := tree.MakeDescendant(genesis.Hash, target, true)
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := tree.NodeFor(target.Hash); !ok || got != child {
		t.Fatal("expected the new node to be tracked under its block hash")
	}
	if _, err := tree.MakeDescendant(blockInfo(9, 9).Hash, blockInfo(10, 10), true); err != ErrScheduleNodeNotFound {
		t.Fatalf("expected ErrScheduleNodeNotFound, got %v", err)
	}
}
