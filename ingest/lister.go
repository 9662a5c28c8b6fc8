package ingest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/go-sif/cassdl/errors"
)

// DefaultExtensions are the file extensions a Lister accepts when none are configured
var DefaultExtensions = []string{".png", ".jpg", ".jpeg", ".bmp", ".gif", ".tif", ".tiff"}

// Lister enumerates image files laid out as Root/<class>/.../<file>
type Lister struct {
	Root string
	// Classes name the class subdirectories, in label order. Defaults to every subdirectory of Root, sorted.
	Classes []string
	// Extensions filter files, case-insensitively. Defaults to DefaultExtensions.
	Extensions []string
	// GroupPattern, if set, extracts a grouping key from each file name: the first submatch,
	// or the whole match if the pattern has no groups. Files which do not match have no group.
	GroupPattern *regexp.Regexp
	// Tag is stored with every listed file
	Tag string
}

// List walks the class directories and produces one Job per file, in lexical order within each class
func (l *Lister) List() ([]Job, error) {
	classes := l.Classes
	if len(classes) == 0 {
		entries, err := os.ReadDir(l.Root)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() {
				classes = append(classes, e.Name())
			}
		}
		sort.Strings(classes)
	}
	if len(classes) == 0 {
		return nil, errors.InvalidConfigf("no class directories under %s", l.Root)
	}
	exts := l.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	accept := make(map[string]bool, len(exts))
	for _, e := range exts {
		accept[strings.ToLower(e)] = true
	}

	var jobs []Job
	for label, class := range classes {
		dir := filepath.Join(l.Root, class)
		info, err := os.Stat(dir)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("class path %s is not a directory", dir)
		}
		err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !accept[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			job := NewJob(l.Root, path, label)
			job.Group = l.group(d.Name())
			job.Tag = l.Tag
			jobs = append(jobs, job)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

func (l *Lister) group(name string) string {
	if l.GroupPattern == nil {
		return ""
	}
	m := l.GroupPattern.FindStringSubmatch(name)
	switch {
	case m == nil:
		return ""
	case len(m) > 1:
		return m[1]
	default:
		return m[0]
	}
}
