package graph

import (
	"path/filepath"
	"strconv"
	"strings"

	"slice_tracer/pkg/store"
)

// SliceImages locates the rendered image of a slice. The slice id's digits
// form the path: all but the last become directories, the last is the file
// name, e.g. section 12, slice 345 -> <base>/12/3/4/5.<ext>.
type SliceImages struct {
	BasePath  string `yaml:"base_path" json:"base_path"`
	BaseURL   string `yaml:"base_url" json:"base_url"`
	Extension string `yaml:"extension" json:"extension"`
}

// Enabled reports whether any location is configured.
func (c SliceImages) Enabled() bool {
	return c.BasePath != "" || c.BaseURL != ""
}

// relative returns the path elements below the base for nodeID.
func (c SliceImages) relative(nodeID string) ([]string, error) {
	section, sliceID, err := store.ParseNodeID(nodeID)
	if err != nil {
		return nil, err
	}
	digits := strconv.FormatInt(sliceID, 10)
	ext := c.Extension
	if ext == "" {
		ext = "png"
	}

	elems := make([]string, 0, len(digits)+1)
	elems = append(elems, strconv.FormatUint(uint64(section), 10))
	for _, d := range digits[:len(digits)-1] {
		elems = append(elems, string(d))
	}
	elems = append(elems, digits[len(digits)-1:]+"."+ext)
	return elems, nil
}

// Path returns the local file path of the slice image.
func (c SliceImages) Path(nodeID string) (string, error) {
	elems, err := c.relative(nodeID)
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{c.BasePath}, elems...)...), nil
}

// URL returns the slice image URL.
func (c SliceImages) URL(nodeID string) (string, error) {
	elems, err := c.relative(nodeID)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Join(elems, "/"), nil
}
