package pipeline

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"go-report-pipeline/internal/model"
)

// Parameters every catalog query may reference.
const (
	ParamTenant = "tenant"
	ParamUser   = "user"
)

// ErrUnknownReport is returned by Bind for job types missing from the catalog.
var ErrUnknownReport = errors.New("unknown report type")

// sqlParamPattern matches :name, @name and $name placeholders.
var sqlParamPattern = regexp.MustCompile(`[:@$]([A-Za-z_][A-Za-z0-9_]*)`)

// Report is one server-side report definition.
type Report struct {
	Source  string         `yaml:"source"`
	Query   string         `yaml:"query,omitempty"`
	Path    string         `yaml:"path,omitempty"` // may contain {tenant} and {user}
	Columns []model.Column `yaml:"columns,omitempty"`
}

// Catalog maps job types to their reports.
type Catalog map[string]Report

type catalogFile struct {
	Reports Catalog `yaml:"reports"`
}

// LoadCatalog reads a YAML catalog of the form
//
//	reports:
//	  media-monitor:
//	    source: sql
//	    query: SELECT outlet, reach FROM mentions WHERE tenant_id = :tenant ORDER BY outlet
//	    columns:
//	      - key: outlet
//	      - key: reach
//	        summable: true
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report catalog: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse report catalog %s: %w", path, err)
	}
	if err := file.Reports.Validate(); err != nil {
		return nil, fmt.Errorf("report catalog %s: %w", path, err)
	}
	return file.Reports, nil
}

// Validate checks every report: a known source, SQL placeholders limited to
// the bound parameters, and a usable default column layout.
func (c Catalog) Validate() error {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		r := c[name]
		switch strings.ToLower(r.Source) {
		case "sql":
			if strings.TrimSpace(r.Query) == "" {
				return fmt.Errorf("report %s: sql source requires a query", name)
			}
			for _, p := range queryParams(r.Query) {
				if p != ParamTenant && p != ParamUser {
					return fmt.Errorf("report %s: unknown query parameter %q", name, p)
				}
			}
		case "csv":
			if strings.TrimSpace(r.Path) == "" {
				return fmt.Errorf("report %s: csv source requires a path", name)
			}
		default:
			return fmt.Errorf("report %s: unknown source type %q", name, r.Source)
		}
		if len(r.Columns) > 0 {
			if err := ValidateColumns(r.Columns); err != nil {
				return fmt.Errorf("report %s: %w", name, err)
			}
		}
	}
	return nil
}

// Bind resolves the report for scope.JobType into a query definition with
// the scope's tenant and user bound as parameters. It also returns the
// report's default columns.
func (c Catalog) Bind(scope model.Scope) (model.QueryDefinition, []model.Column, error) {
	r, ok := c[scope.JobType]
	if !ok {
		return model.QueryDefinition{}, nil, fmt.Errorf("%w: %s", ErrUnknownReport, scope.JobType)
	}
	def := model.QueryDefinition{
		Source: r.Source,
		Query:  r.Query,
		Params: map[string]string{ParamTenant: scope.TenantID, ParamUser: scope.UserID},
	}
	if r.Path != "" {
		for _, v := range []string{scope.TenantID, scope.UserID} {
			if v == "." || v == ".." || strings.ContainsAny(v, `/\`) {
				return model.QueryDefinition{}, nil, fmt.Errorf("scope value %q cannot name a file", v)
			}
		}
		def.Path = strings.NewReplacer("{tenant}", scope.TenantID, "{user}", scope.UserID).Replace(r.Path)
	}
	return def, append([]model.Column(nil), r.Columns...), nil
}

// queryParams lists the distinct named parameters referenced by query.
func queryParams(query string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range sqlParamPattern.FindAllStringSubmatch(query, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}
