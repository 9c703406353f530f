package diff

import (
	"strconv"

	diffpatch "github.com/sergi/go-diff/diffmatchpatch"

	"github.com/livefir/livepredict/internal/tree"
)

// keyRuneBase maps child keys into a private-use plane so that key
// sequences can be diffed as rune strings
const keyRuneBase = 0xF0000

func isKeyed(children []*tree.Node) bool {
	for _, c := range children {
		if c.Key != "" {
			return true
		}
	}
	return false
}

// childKeys returns one identity per child. Unkeyed children are
// identified by their ordinal among the unkeyed siblings, so a keyed list
// with static separators still diffs by key. Duplicate keys disable keyed
// matching.
func childKeys(children []*tree.Node) ([]string, bool) {
	keys := make([]string, len(children))
	seen := make(map[string]bool, len(children))
	unkeyed := 0
	for i, c := range children {
		if c.Key != "" {
			keys[i] = "k:" + c.Key
		} else {
			keys[i] = "u:" + strconv.Itoa(unkeyed)
			unkeyed++
		}
		if seen[keys[i]] {
			return nil, false
		}
		seen[keys[i]] = true
	}
	return keys, true
}

// diffKeyed computes a shortest edit script over the key sequences and
// turns it into removals, at most one reorder, insertions and in-place
// updates, emitted in that order so that every index is valid when its
// patch applies.
func diffKeyed(prev, next []*tree.Node, prevKeys, nextKeys []string, path []int, out *[]tree.Patch) {
	runeOf := map[string]rune{}
	toRunes := func(keys []string) []rune {
		rs := make([]rune, len(keys))
		for i, k := range keys {
			r, ok := runeOf[k]
			if !ok {
				r = rune(keyRuneBase + len(runeOf))
				runeOf[k] = r
			}
			rs[i] = r
		}
		return rs
	}
	prevRunes := toRunes(prevKeys)
	nextRunes := toRunes(nextKeys)

	prevIndex := indexOf(prevKeys)
	nextIndex := indexOf(nextKeys)

	dmp := diffpatch.New()
	dmp.DiffTimeout = 0
	diffs := dmp.DiffMainRunes(prevRunes, nextRunes, false)

	var removed, inserted []int
	moved := false
	pi, ni := 0, 0
	for _, d := range diffs {
		for range d.Text {
			switch d.Type {
			case diffpatch.DiffDelete:
				if _, ok := nextIndex[prevKeys[pi]]; ok {
					moved = true
				} else {
					removed = append(removed, pi)
				}
				pi++
			case diffpatch.DiffInsert:
				if _, ok := prevIndex[nextKeys[ni]]; ok {
					moved = true
				} else {
					inserted = append(inserted, ni)
				}
				ni++
			case diffpatch.DiffEqual:
				pi++
				ni++
			}
		}
	}

	for i := len(removed) - 1; i >= 0; i-- {
		*out = append(*out, tree.RemoveChild(path, removed[i]))
	}

	if moved {
		if perm := survivorPermutation(prevKeys, nextKeys, prevIndex, nextIndex); perm != nil {
			*out = append(*out, tree.ReorderChildren(path, perm))
		}
	}

	for _, i := range inserted {
		*out = append(*out, tree.InsertChild(path, i, next[i]))
	}

	for i, key := range nextKeys {
		if j, ok := prevIndex[key]; ok {
			diffNode(prev[j], next[i], tree.ChildPath(path, i), out)
		}
	}
}

// survivorPermutation returns the reorder turning the surviving children
// (old order, removals applied) into their new relative order, or nil
// when the order is unchanged
func survivorPermutation(prevKeys, nextKeys []string, prevIndex, nextIndex map[string]int) []int {
	position := make(map[string]int, len(prevKeys))
	for _, k := range prevKeys {
		if _, ok := nextIndex[k]; ok {
			position[k] = len(position)
		}
	}
	perm := make([]int, 0, len(position))
	identity := true
	for _, k := range nextKeys {
		if _, ok := prevIndex[k]; !ok {
			continue
		}
		if position[k] != len(perm) {
			identity = false
		}
		perm = append(perm, position[k])
	}
	if identity {
		return nil
	}
	return perm
}

func indexOf(keys []string) map[string]int {
	m := make(map[string]int, len(keys))
	for i, k := range keys {
		m[k] = i
	}
	return m
}
