package pgstore

import (
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/grosser/soft-deletion/pkg/softdelete"
)

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func identList(names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = ident(name)
	}
	return strings.Join(quoted, ", ")
}

// rebind numbers the ? placeholders of cond starting after n.
func rebind(cond string, n int) string {
	var b strings.Builder
	for _, r := range cond {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// where accumulates AND-ed conditions and their arguments.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	w.conds = append(w.conds, rebind(cond, len(w.args)))
	w.args = append(w.args, args...)
}

func (w *where) filter(f softdelete.Filter) {
	if cond, args := f.Predicate(ident(softdelete.DeletedAtColumn)); cond != "" {
		w.add(cond, args...)
	}
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func selectSQL(table string, columns []string, w *where, limit int) string {
	sql := "SELECT " + identList(columns) + " FROM " + ident(table) + w.String()
	if limit > 0 {
		sql += " LIMIT " + strconv.Itoa(limit)
	}
	return sql
}

func insertSQL(table string, columns []string) string {
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = "$" + strconv.Itoa(i+1)
	}
	return "INSERT INTO " + ident(table) + " (" + identList(columns) + ") VALUES (" + strings.Join(placeholders, ", ") + ")"
}

// updateSQL builds an UPDATE of values for the rows matching w. Columns are
// sorted so the statement is stable; the returned args are the column values
// followed by the arguments of w.
func updateSQL(table string, values map[string]any, w *where) (string, []any) {
	columns := make([]string, 0, len(values))
	for column := range values {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	sets := make([]string, len(columns))
	args := make([]any, 0, len(columns)+len(w.args))
	for i, column := range columns {
		sets[i] = ident(column) + " = $" + strconv.Itoa(i+1)
		args = append(args, values[column])
	}

	shifted := &where{}
	for _, cond := range w.conds {
		shifted.conds = append(shifted.conds, shift(cond, len(columns)))
	}
	args = append(args, w.args...)

	return "UPDATE " + ident(table) + " SET " + strings.Join(sets, ", ") + shifted.String(), args
}

func incrementSQL(table, column string) string {
	col := ident(column)
	return "UPDATE " + ident(table) + " SET " + col + " = " + col + " + $1 WHERE " + ident("id") + " = $2"
}

// shift renumbers $n placeholders in cond by offset.
func shift(cond string, offset int) string {
	var b strings.Builder
	for i := 0; i < len(cond); i++ {
		if cond[i] != '$' {
			b.WriteByte(cond[i])
			continue
		}
		j := i + 1
		for j < len(cond) && cond[j] >= '0' && cond[j] <= '9' {
			j++
		}
		n, err := strconv.Atoi(cond[i+1 : j])
		if err != nil {
			b.WriteByte(cond[i])
			continue
		}
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n + offset))
		i = j - 1
	}
	return b.String()
}
