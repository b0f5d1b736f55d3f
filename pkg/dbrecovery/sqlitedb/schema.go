package sqlitedb

import (
	"context"
	"database/sql"
	"regexp"
	"strings"
)

// schemaObject is one row of sqlite_master.
type schemaObject struct {
	Type      string
	Name      string
	TableName string
	SQL       string
}

func readSchema(ctx context.Context, db *sql.DB) ([]schemaObject, error) {
	rows, err := db.QueryContext(ctx, `SELECT type, name, tbl_name, sql FROM sqlite_master ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var objects []schemaObject
	for rows.Next() {
		var (
			obj schemaObject
			raw sql.NullString
		)
		if err := rows.Scan(&obj.Type, &obj.Name, &obj.TableName, &raw); err != nil {
			return nil, err
		}
		obj.SQL = raw.String
		objects = append(objects, obj)
	}
	return objects, rows.Err()
}

// tableKind says how a table's rows are carried into the replacement.
type tableKind int

const (
	// kindOrdinary tables are read with NOT INDEXED and copied.
	kindOrdinary tableKind = iota
	// kindVirtual tables keep their own data and are copied through the
	// virtual table interface.
	kindVirtual
	// kindDerived tables are engine-internal, shadow tables of a virtual
	// table, or full-text indexes over other tables. They are rebuilt, not
	// copied.
	kindDerived
)

// shadowSuffixes are the shadow table suffixes of fts3/4/5 and rtree.
var shadowSuffixes = []string{
	"content", "data", "idx", "docsize", "config",
	"segments", "segdir", "stat",
	"node", "rowid", "parent",
}

var (
	virtualRe = regexp.MustCompile(`(?is)^\s*CREATE\s+VIRTUAL\s+TABLE\b.*?\bUSING\s+(\w+)`)
	contentRe = regexp.MustCompile(`(?i)\bcontent\s*=`)
)

// virtualModule returns the module of a CREATE VIRTUAL TABLE statement.
func virtualModule(createSQL string) (string, bool) {
	m := virtualRe.FindStringSubmatch(createSQL)
	if m == nil {
		return "", false
	}
	return strings.ToLower(m[1]), true
}

func isFTS(module string) bool {
	return module == "fts3" || module == "fts4" || module == "fts5"
}

// hasContentOption reports an external-content or contentless full-text
// table, whose rows live elsewhere or nowhere.
func hasContentOption(createSQL string) bool {
	return contentRe.MatchString(createSQL)
}

// tableKinds classifies every table in objects.
func tableKinds(objects []schemaObject) map[string]tableKind {
	kinds := make(map[string]tableKind)
	for _, obj := range objects {
		if obj.Type != "table" {
			continue
		}
		if strings.HasPrefix(strings.ToLower(obj.Name), "sqlite_") {
			kinds[obj.Name] = kindDerived
			continue
		}
		module, virtual := virtualModule(obj.SQL)
		switch {
		case !virtual:
			if _, seen := kinds[obj.Name]; !seen {
				kinds[obj.Name] = kindOrdinary
			}
		case isFTS(module) && hasContentOption(obj.SQL):
			kinds[obj.Name] = kindDerived
		default:
			kinds[obj.Name] = kindVirtual
		}
		if virtual {
			for _, suffix := range shadowSuffixes {
				kinds[obj.Name+"_"+suffix] = kindDerived
			}
		}
	}
	return kinds
}

// searchTables returns the full-text tables whose index can be rebuilt.
// Contentless tables have nothing to rebuild from and are left out.
func searchTables(objects []schemaObject) []string {
	var out []string
	for _, obj := range objects {
		if obj.Type != "table" {
			continue
		}
		module, ok := virtualModule(obj.SQL)
		if !ok || !isFTS(module) || isContentless(obj.SQL) {
			continue
		}
		out = append(out, obj.Name)
	}
	return out
}

var contentlessRe = regexp.MustCompile(`(?i)\bcontent\s*=\s*(''|"")`)

func isContentless(createSQL string) bool {
	return contentlessRe.MatchString(createSQL)
}
