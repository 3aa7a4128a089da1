package sqlstore

import (
	"strconv"
	"strings"
)

// Dialect различия SQL между драйверами
type Dialect int

const (
	// DialectSQLite позиционные параметры "?"
	DialectSQLite Dialect = iota
	// DialectPostgres позиционные параметры "$n"
	DialectPostgres
)

func (d Dialect) String() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// Rebind переписывает "?" в плейсхолдеры диалекта.
// Запросы пакета не содержат "?" внутри строковых литералов.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// placeholders возвращает "?, ?, ?" для IN (...)
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
