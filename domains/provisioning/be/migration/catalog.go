package migration

import (
	"bufio"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"strings"

	sqlassets "github.com/zenGate-Global/palmyra-provisioning/database"
	"github.com/zenGate-Global/palmyra-provisioning/domains/provisioning/be/service"
)

const (
	baseTemplate     = "templates/base.sql"
	authTemplate     = "templates/auth_baseline.sql"
	featureTemplates = "templates/features/*.sql"
)

var createTableRe = regexp.MustCompile(`(?i)CREATE\s+TABLE\s+IF\s+NOT\s+EXISTS\s+public\.([a-z_][a-z0-9_]*)`)

// TemplateNotFoundError means a requested feature has no schema fragment. It aborts the
// whole migration; the feature is never skipped.
type TemplateNotFoundError struct {
	Key string
}

func (e *TemplateNotFoundError) Error() string {
	return fmt.Sprintf("no migration template for feature %q", e.Key)
}

// Feature is one selectable schema fragment.
type Feature struct {
	Key    string
	Title  string
	Tables []string
	SQL    string
}

// Catalog is the fixed set of schema templates applied to customer databases.
type Catalog struct {
	baseSQL    string
	baseTables []string
	authSQL    string
	order      []string
	features   map[string]Feature
}

// DefaultCatalog loads the templates embedded in the binary.
func DefaultCatalog() (*Catalog, error) {
	return LoadCatalog(sqlassets.Templates)
}

// LoadCatalog reads the base, auth and feature templates from fsys.
func LoadCatalog(fsys fs.FS) (*Catalog, error) {
	base, err := fs.ReadFile(fsys, baseTemplate)
	if err != nil {
		return nil, fmt.Errorf("read base template: %w", err)
	}
	auth, err := fs.ReadFile(fsys, authTemplate)
	if err != nil {
		return nil, fmt.Errorf("read auth template: %w", err)
	}

	paths, err := fs.Glob(fsys, featureTemplates)
	if err != nil {
		return nil, fmt.Errorf("list feature templates: %w", err)
	}

	c := &Catalog{
		baseSQL:    string(base),
		baseTables: tablesIn(string(base)),
		authSQL:    string(auth),
		features:   make(map[string]Feature, len(paths)),
	}
	for _, p := range paths {
		raw, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read feature template %s: %w", p, err)
		}
		key := strings.TrimSuffix(path.Base(p), ".sql")
		sql := string(raw)
		c.features[key] = Feature{
			Key:    key,
			Title:  titleOf(sql, key),
			Tables: tablesIn(sql),
			SQL:    sql,
		}
		c.order = append(c.order, key)
	}
	return c, nil
}

// Has reports whether key names a known feature.
func (c *Catalog) Has(key string) bool {
	_, ok := c.features[key]
	return ok
}

// Lookup returns the feature or a *TemplateNotFoundError.
func (c *Catalog) Lookup(key string) (Feature, error) {
	f, ok := c.features[key]
	if !ok {
		return Feature{}, &TemplateNotFoundError{Key: key}
	}
	return f, nil
}

// Features lists the catalog in key order.
func (c *Catalog) Features() []service.FeatureInfo {
	out := make([]service.FeatureInfo, 0, len(c.order))
	for _, key := range c.order {
		f := c.features[key]
		out = append(out, service.FeatureInfo{Key: f.Key, Title: f.Title, Tables: append([]string(nil), f.Tables...)})
	}
	return out
}

func tablesIn(sql string) []string {
	matches := createTableRe.FindAllStringSubmatch(sql, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.ToLower(m[1]))
	}
	return out
}

// titleOf reads a leading "-- title: ..." comment.
func titleOf(sql, fallback string) string {
	sc := bufio.NewScanner(strings.NewReader(sql))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "-- title:"); ok {
			return strings.TrimSpace(rest)
		}
		break
	}
	return fallback
}

var _ service.FeatureCatalog = (*Catalog)(nil)
