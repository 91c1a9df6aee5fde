package filter

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/cloudflare/ahocorasick"
	log "github.com/sirupsen/logrus"
)

type node struct {
	children map[rune]*node
	end      bool
}

func newNode() *node {
	return &node{children: make(map[rune]*node)}
}

// dictionary is never mutated after build.
type dictionary struct {
	words   []string
	root    *node
	matcher *ahocorasick.Matcher // nil when words is empty
}

func buildDictionary(list []string) *dictionary {
	d := &dictionary{root: newNode()}
	seen := make(map[string]bool)

	for _, raw := range list {
		w := strings.TrimSpace(raw)
		if w == "" || strings.HasPrefix(w, "#") || seen[w] {
			continue
		}
		seen[w] = true
		d.words = append(d.words, w)

		n := d.root
		for _, r := range w {
			next, ok := n.children[r]
			if !ok {
				next = newNode()
				n.children[r] = next
			}
			n = next
		}
		n.end = true
	}

	if len(d.words) > 0 {
		d.matcher = ahocorasick.NewStringMatcher(d.words)
	}
	return d
}

// Filter screens user text against a sensitive word list.
// The zero value is usable and not ready; it matches nothing until Load.
type Filter struct {
	dict atomic.Pointer[dictionary]
}

func New() *Filter {
	return &Filter{}
}

// Load builds a new dictionary from words and swaps it in.
// Blank lines and lines starting with '#' are ignored.
func (f *Filter) Load(words []string) {
	d := buildDictionary(words)
	f.dict.Store(d)
	log.Infof("[filter] sensitive dictionary loaded, count: %d", len(d.words))
}

// LoadFile reads a newline separated word list. On failure the current
// dictionary is kept, so a failed first load leaves the filter not ready.
func (f *Filter) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warnf("[filter] unable to read dictionary %s: %v", path, err)
		return fmt.Errorf("read dictionary: %w", err)
	}

	var words []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		words = append(words, sc.Text())
	}
	if err := sc.Err(); err != nil {
		log.Warnf("[filter] unable to parse dictionary %s: %v", path, err)
		return fmt.Errorf("scan dictionary: %w", err)
	}

	f.Load(words)
	return nil
}

func (f *Filter) Ready() bool {
	return f.dict.Load() != nil
}

// Check returns the banned phrase that starts earliest in text; among phrases
// starting at the same offset the shortest one wins.
func (f *Filter) Check(text string) (string, bool) {
	d := f.dict.Load()
	if d == nil || d.matcher == nil || text == "" {
		return "", false
	}

	// cheap rejection before the per offset walk
	if len(d.matcher.MatchThreadSafe([]byte(text))) == 0 {
		return "", false
	}

	runes := []rune(text)
	for i := range runes {
		n := d.root
		for j := i; j < len(runes); j++ {
			next, ok := n.children[runes[j]]
			if !ok {
				break
			}
			n = next
			if n.end {
				return string(runes[i : j+1]), true
			}
		}
	}
	return "", false
}

// WordList returns a copy of the loaded words in source order.
func (f *Filter) WordList() []string {
	d := f.dict.Load()
	if d == nil {
		return []string{}
	}
	out := make([]string, len(d.words))
	copy(out, d.words)
	return out
}
