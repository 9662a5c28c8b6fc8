package ingest

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
)

// ManifestConf names the gjson paths of each field in a JSONL manifest
type ManifestConf struct {
	Path          string // defaults to "path"
	Label         string // defaults to "label"
	Group         string // defaults to "group"
	Tag           string // defaults to "tag"
	Comment       rune   // lines beginning with the comment character are ignored
	MaxBufferSize int    // maximum size in bytes of a single line
}

func (c *ManifestConf) ensureDefaults() {
	if c.Path == "" {
		c.Path = "path"
	}
	if c.Label == "" {
		c.Label = "label"
	}
	if c.Group == "" {
		c.Group = "group"
	}
	if c.Tag == "" {
		c.Tag = "tag"
	}
	if c.MaxBufferSize == 0 {
		c.MaxBufferSize = bufio.MaxScanTokenSize
	}
}

// ReadManifest parses a JSON lines manifest, one file per line. Relative paths are resolved
// against root, which is also the base for row ids.
func ReadManifest(r io.Reader, root string, conf ManifestConf) ([]Job, error) {
	conf.ensureDefaults()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), conf.MaxBufferSize)
	var jobs []Job
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || (conf.Comment != 0 && strings.HasPrefix(line, string(conf.Comment))) {
			continue
		}
		if !gjson.Valid(line) {
			return nil, fmt.Errorf("manifest line %d is not valid JSON", lineNum)
		}
		path := gjson.Get(line, conf.Path)
		label := gjson.Get(line, conf.Label)
		if !path.Exists() || path.String() == "" {
			return nil, fmt.Errorf("manifest line %d has no %s", lineNum, conf.Path)
		}
		if !label.Exists() || label.Type != gjson.Number || label.Float() != float64(label.Int()) {
			return nil, fmt.Errorf("manifest line %d has no integer %s", lineNum, conf.Label)
		}
		p := path.String()
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, p)
		}
		job := NewJob(root, p, int(label.Int()))
		job.Group = gjson.Get(line, conf.Group).String()
		job.Tag = gjson.Get(line, conf.Tag).String()
		jobs = append(jobs, job)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}
