// Package tagmap maps task statuses and labels to external forum tag IDs.
package tagmap

import (
	"fmt"
	"os"
	"sort"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/DiscoClaw/discoclaw/internal/model"
)

// Map maps a status name or label name to the tag ID applied on threads.
type Map map[string]string

// File is the on-disk form of the tag map.
type File struct {
	Version int               `yaml:"version"`
	Tags    map[string]string `yaml:"tags"`
}

// Load reads and parses a tag map file.
func Load(path string) (Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tag map: %w", err)
	}
	return Parse(data)
}

// Parse decodes the on-disk tag map form.
func Parse(data []byte) (Map, error) {
	var f File
	if err := yamlv3.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tag map: %w", err)
	}
	m := make(Map, len(f.Tags))
	for name, id := range f.Tags {
		if id != "" {
			m[name] = id
		}
	}
	return m, nil
}

// TagsFor returns the canonical tag-ID set for a task: the status tag plus
// any mapped labels, deduplicated and sorted for stable comparison.
func (m Map) TagsFor(task model.Task) []string {
	seen := make(map[string]bool)
	var tags []string

	add := func(name string) {
		id, ok := m[name]
		if !ok || seen[id] {
			return
		}
		seen[id] = true
		tags = append(tags, id)
	}

	add(string(task.Status))
	for _, label := range task.Labels {
		add(label)
	}

	sort.Strings(tags)
	return tags
}

// SetsEqual reports whether two tag-ID slices hold the same set.
func SetsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
