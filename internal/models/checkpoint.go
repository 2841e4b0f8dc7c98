package models

import (
	"fmt"
	"sort"
	"time"
)

// CheckpointVersion is bumped whenever the persisted layout changes.
const CheckpointVersion = 1

// FileNode is one discovered document in the embedding hierarchy.
type FileNode struct {
	Key         string   `json:"key"`
	DisplayName string   `json:"displayName"`
	Locator     string   `json:"locator"`
	ParentKey   string   `json:"parentKey,omitempty"`
	Depth       int      `json:"depth"`
	ChildKeys   []string `json:"childKeys"`
	// SlideCount stays nil until the node has been converted.
	SlideCount  *int   `json:"slideCount"`
	ContentHash string `json:"contentHash,omitempty"`
	Failed      bool   `json:"failed,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Converted reports whether conversion already populated the node.
func (n *FileNode) Converted() bool {
	return n.SlideCount != nil
}

// Slides returns the recorded slide count, zero when not converted.
func (n *FileNode) Slides() int {
	if n.SlideCount == nil {
		return 0
	}
	return *n.SlideCount
}

// MarkConverted sets the slide count and the node-scoped failure, if any.
func (n *FileNode) MarkConverted(slides int, failure error) {
	n.SlideCount = &slides
	if failure != nil {
		n.Failed = true
		n.Error = failure.Error()
	}
}

// SlideRecord is one rendered slide of one FileNode.
type SlideRecord struct {
	OwnerKey     string `json:"ownerKey"`
	SlideNumber  int    `json:"slideNumber"`
	ImageLocator string `json:"imageLocator"`
}

// ID is unique across a run.
func (s SlideRecord) ID() string {
	return SlideID(s.OwnerKey, s.SlideNumber)
}

// SlideID builds the identifier shared by slides and their outcomes.
func SlideID(ownerKey string, slideNumber int) string {
	return fmt.Sprintf("%s#%04d", ownerKey, slideNumber)
}

// RunCheckpoint is the durable hand-off between conversion and analysis.
type RunCheckpoint struct {
	RunID       string               `json:"runId"`
	Version     int                  `json:"version"`
	GeneratedAt time.Time            `json:"generatedAt"`
	Roots       []string             `json:"roots"`
	Nodes       map[string]*FileNode `json:"nodes"`
	Slides      []SlideRecord        `json:"slides"`
}

// NewRunCheckpoint returns an empty checkpoint for runID.
func NewRunCheckpoint(runID string) *RunCheckpoint {
	return &RunCheckpoint{
		RunID:   runID,
		Version: CheckpointVersion,
		Roots:   []string{},
		Nodes:   map[string]*FileNode{},
		Slides:  []SlideRecord{},
	}
}

// Normalize fills nil collections left by older or hand-written files.
func (c *RunCheckpoint) Normalize() {
	if c.Nodes == nil {
		c.Nodes = map[string]*FileNode{}
	}
	if c.Roots == nil {
		c.Roots = []string{}
	}
	if c.Slides == nil {
		c.Slides = []SlideRecord{}
	}
	for _, n := range c.Nodes {
		if n.ChildKeys == nil {
			n.ChildKeys = []string{}
		}
	}
}

// Touch advances GeneratedAt, never moving it backwards.
func (c *RunCheckpoint) Touch(now time.Time) {
	if !now.After(c.GeneratedAt) {
		now = c.GeneratedAt.Add(time.Nanosecond)
	}
	c.GeneratedAt = now
}

// Node returns the node stored under key.
func (c *RunCheckpoint) Node(key string) (*FileNode, bool) {
	n, ok := c.Nodes[key]
	return n, ok
}

// PutNode stores n under its key.
func (c *RunCheckpoint) PutNode(n *FileNode) {
	if n.ChildKeys == nil {
		n.ChildKeys = []string{}
	}
	c.Nodes[n.Key] = n
}

// AddRoot records key as a top-level input once.
func (c *RunCheckpoint) AddRoot(key string) {
	for _, r := range c.Roots {
		if r == key {
			return
		}
	}
	c.Roots = append(c.Roots, key)
}

// SetSlides replaces every slide owned by ownerKey with slides.
func (c *RunCheckpoint) SetSlides(ownerKey string, slides []SlideRecord) {
	kept := c.Slides[:0:0]
	for _, s := range c.Slides {
		if s.OwnerKey != ownerKey {
			kept = append(kept, s)
		}
	}
	kept = append(kept, slides...)
	sortSlides(kept)
	c.Slides = kept
}

// SlidesFor returns the slides of ownerKey ordered by slide number.
func (c *RunCheckpoint) SlidesFor(ownerKey string) []SlideRecord {
	var out []SlideRecord
	for _, s := range c.Slides {
		if s.OwnerKey == ownerKey {
			out = append(out, s)
		}
	}
	sortSlides(out)
	return out
}

// NodeKeys returns all node keys in sorted order.
func (c *RunCheckpoint) NodeKeys() []string {
	keys := make([]string, 0, len(c.Nodes))
	for k := range c.Nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortSlides(slides []SlideRecord) {
	sort.Slice(slides, func(i, j int) bool {
		if slides[i].OwnerKey != slides[j].OwnerKey {
			return slides[i].OwnerKey < slides[j].OwnerKey
		}
		return slides[i].SlideNumber < slides[j].SlideNumber
	})
}
