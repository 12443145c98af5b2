package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
)

// Fingerprint identifies a tool call by its name and raw serialized arguments.
// Argument order and formatting are significant.
func Fingerprint(toolName, arguments string) string {
	return toolName + ":" + arguments
}

// LoopDetector keeps a FIFO window of recent fingerprints.
type LoopDetector struct {
	capacity int
	window   []string
}

func NewLoopDetector(capacity int) *LoopDetector {
	return &LoopDetector{
		capacity: defaultInt(capacity, defaultRepeatWindow),
		window:   make([]string, 0, defaultInt(capacity, defaultRepeatWindow)),
	}
}

// Observe records fp and returns how many times it now appears in the window.
func (d *LoopDetector) Observe(fp string) int {
	key := digest(fp)
	d.window = append(d.window, key)
	if len(d.window) > d.capacity {
		d.window = slices.Delete(d.window, 0, len(d.window)-d.capacity)
	}
	count := 0
	for _, k := range d.window {
		if k == key {
			count++
		}
	}
	return count
}

func (d *LoopDetector) Len() int {
	return len(d.window)
}

// digest bounds the memory held per entry; tool arguments can be whole workflows.
func digest(fp string) string {
	sum := sha256.Sum256([]byte(fp))
	return hex.EncodeToString(sum[:])
}
