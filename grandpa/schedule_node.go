// Package grandpa implements component I: the GRANDPA schedule-node
// tree. A root schedule node holds the genesis authority set; each
// block-tree leaf that has observed a GRANDPA consensus digest gets its
// own descendant schedule node on a tree that parallels the block tree.
//
// Grounded on original_source's schedule_node.hpp/.cpp: adjust()'s
// precedence among the four action kinds (exactly one can be pending at
// a time, mirroring the boost::variant there) and makeDescendant()'s
// clone-then-adjust construction.
package grandpa

import (
	"errors"

	"github.com/qdrvm/kagome-sub006/log"
	"github.com/qdrvm/kagome-sub006/primitives"
)

// Errors returned by schedule-node and tree operations.
var (
	ErrUnsupportedMessageType      = errors.New("grandpa: unsupported message type")
	ErrWrongAuthorityIndex         = errors.New("grandpa: wrong authority index")
	ErrNoScheduledChangeAppliedYet = errors.New("grandpa: no scheduled change applied yet")
	ErrNoForcedChangeAppliedYet    = errors.New("grandpa: no forced change applied yet")
	ErrNoPauseAppliedYet           = errors.New("grandpa: no pause applied yet")
	ErrNoResumeAppliedYet          = errors.New("grandpa: no resume applied yet")
	ErrScheduleNodeNotFound        = errors.New("grandpa: no schedule node for block")
)

// AuthorityID identifies a GRANDPA voter.
type AuthorityID [32]byte

// Authority is one voter and its vote weight.
type Authority struct {
	ID     AuthorityID
	Weight uint64
}

// AuthoritySet is an ordered list of authorities.
type AuthoritySet []Authority

type actionKind int

const (
	actionNone actionKind = iota
	actionScheduledChange
	actionForcedChange
	actionPause
	actionResume
)

// Action is the pending change recorded on a schedule node. At most one
// kind is ever pending on a given node, mirroring the single-active-member
// variant in the reference implementation.
type Action struct {
	Kind           actionKind
	AppliedBlock   primitives.BlockNumber // ScheduledChange, Pause, Resume
	DelayStart     primitives.BlockNumber // ForcedChange
	DelayLength    primitives.BlockNumber // ForcedChange
	NewAuthorities AuthoritySet           // ScheduledChange, ForcedChange
}

// ScheduledChange constructs a ScheduledChange action.
func ScheduledChange(applied primitives.BlockNumber, new AuthoritySet) Action {
	return Action{Kind: actionScheduledChange, AppliedBlock: applied, NewAuthorities: new}
}

// ForcedChange constructs a ForcedChange action.
func ForcedChange(delayStart, delayLength primitives.BlockNumber, new AuthoritySet) Action {
	return Action{Kind: actionForcedChange, DelayStart: delayStart, DelayLength: delayLength, NewAuthorities: new}
}

// Pause constructs a Pause action.
func Pause(applied primitives.BlockNumber) Action {
	return Action{Kind: actionPause, AppliedBlock: applied}
}

// Resume constructs a Resume action.
func Resume(applied primitives.BlockNumber) Action {
	return Action{Kind: actionResume, AppliedBlock: applied}
}

// ScheduleNode is one node of the schedule-node tree: the authority set
// and pause state in effect at Block, plus at most one pending action.
type ScheduleNode struct {
	Block         primitives.BlockInfo
	Parent        *ScheduleNode
	Authorities   AuthoritySet
	Enabled       bool
	Action        Action
	ForcedDigests []primitives.BlockInfo
}

// CreateAsRoot creates the tree's root node, holding the initial
// authority set.
func CreateAsRoot(authorities AuthoritySet, block primitives.BlockInfo) *ScheduleNode {
	return &ScheduleNode{Block: block, Authorities: authorities, Enabled: true}
}

// MakeDescendant clones the node's state for target and applies adjust,
// per the schedule-node action-application rules.
func (n *ScheduleNode) MakeDescendant(target primitives.BlockInfo, finalized bool) *ScheduleNode {
	child := &ScheduleNode{
		Block:         target,
		Parent:        n,
		Authorities:   n.Authorities,
		Enabled:       n.Enabled,
		Action:        n.Action,
		ForcedDigests: append([]primitives.BlockInfo(nil), n.ForcedDigests...),
	}
	child.adjust(finalized)
	return child
}

// adjust applies the node's pending action if its condition is met.
// ScheduledChange and Pause require the block to be finalized;
// ForcedChange and Resume apply regardless of finalization, matching
// original_source's schedule_node.cpp exactly (forced changes and
// resumes are not gated on finalized there).
func (n *ScheduleNode) adjust(finalized bool) {
	switch n.Action.Kind {
	case actionScheduledChange:
		if finalized && n.Action.AppliedBlock <= n.Block.Number {
			n.Authorities = n.Action.NewAuthorities
			n.Action = Action{}
			n.ForcedDigests = nil
		}
	case actionPause:
		if finalized && n.Action.AppliedBlock <= n.Block.Number {
			n.Enabled = false
			n.Action = Action{}
		}
	case actionForcedChange:
		if n.Action.DelayStart+n.Action.DelayLength <= n.Block.Number {
			n.Authorities = n.Action.NewAuthorities
			n.Action = Action{}
		}
	case actionResume:
		if n.Action.AppliedBlock <= n.Block.Number {
			n.Enabled = true
			n.Action = Action{}
		}
	}
}

// SetAction records a to-be-applied action on the node. A node can only
// hold one pending action at a time; attempting to schedule a second
// one before the first has applied fails with the error naming the kind
// already pending.
func (n *ScheduleNode) SetAction(a Action) error {
	switch n.Action.Kind {
	case actionNone:
		n.Action = a
		return nil
	case actionScheduledChange:
		return ErrNoScheduledChangeAppliedYet
	case actionForcedChange:
		return ErrNoForcedChangeAppliedYet
	case actionPause:
		return ErrNoPauseAppliedYet
	case actionResume:
		return ErrNoResumeAppliedYet
	default:
		return ErrUnsupportedMessageType
	}
}

// DigestMessageKind identifies a parsed GRANDPA consensus digest's kind.
type DigestMessageKind int

const (
	DigestScheduledChange DigestMessageKind = iota
	DigestForcedChange
	DigestPause
	DigestResume
)

// Message is a parsed GRANDPA consensus digest, as observed in a
// block's digest items.
type Message struct {
	Kind           DigestMessageKind
	AppliedBlock   primitives.BlockNumber
	DelayStart     primitives.BlockNumber
	DelayLength    primitives.BlockNumber
	AuthorityIndex int
	NewAuthorities AuthoritySet
}

// ApplyMessage validates msg's authority index against authorityCount
// (when it names one) and schedules the corresponding action on node.
func ApplyMessage(node *ScheduleNode, msg Message, authorityCount int) error {
	if authorityCount > 0 && (msg.AuthorityIndex < 0 || msg.AuthorityIndex >= authorityCount) {
		return ErrWrongAuthorityIndex
	}
	switch msg.Kind {
	case DigestScheduledChange:
		return node.SetAction(ScheduledChange(msg.AppliedBlock, msg.NewAuthorities))
	case DigestForcedChange:
		return node.SetAction(ForcedChange(msg.DelayStart, msg.DelayLength, msg.NewAuthorities))
	case DigestPause:
		return node.SetAction(Pause(msg.AppliedBlock))
	case DigestResume:
		return node.SetAction(Resume(msg.AppliedBlock))
	default:
		return ErrUnsupportedMessageType
	}
}

// Tree tracks one ScheduleNode per block-tree leaf that has observed a
// GRANDPA digest, all descending from a shared root.
type Tree struct {
	root  *ScheduleNode
	nodes map[primitives.Hash]*ScheduleNode
	log   *log.Logger
}

// NewTree creates a Tree rooted at genesis with the genesis authority set.
func NewTree(genesisAuthorities AuthoritySet, genesis primitives.BlockInfo) *Tree {
	root := CreateAsRoot(genesisAuthorities, genesis)
	return &Tree{
		root:  root,
		nodes: map[primitives.Hash]*ScheduleNode{genesis.Hash: root},
		log:   log.Default().Module("grandpa"),
	}
}

// NodeFor returns the schedule node tracked for hash, if any.
func (t *Tree) NodeFor(hash primitives.Hash) (*ScheduleNode, bool) {
	n, ok := t.nodes[hash]
	return n, ok
}

// MakeDescendant derives and registers a schedule node for target,
// descending from the node already tracked at parentHash.
func (t *Tree) MakeDescendant(parentHash primitives.Hash, target primitives.BlockInfo, finalized bool) (*ScheduleNode, error) {
	parent, ok := t.nodes[parentHash]
	if !ok {
		return nil, ErrScheduleNodeNotFound
	}
	child := parent.MakeDescendant(target, finalized)
	t.nodes[target.Hash] = child
	if child.Action.Kind != actionNone {
		t.log.Debug("schedule node carries pending action", "block", target.Number, "kind", child.Action.Kind)
	}
	return child, nil
}

// Prune drops every tracked node except those in keep, e.g. called
// alongside block-tree finalization to discard schedule nodes for
// forks that were just pruned.
func (t *Tree) Prune(keep map[primitives.Hash]struct{}) {
	for h := range t.nodes {
		if _, ok := keep[h]; !ok && h != t.root.Block.Hash {
			delete(t.nodes, h)
		}
	}
}
