package salesforce

import (
	"strings"
	"time"
)

var (
	soqlEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	likeEscaper = strings.NewReplacer(`%`, `\%`, `_`, `\_`)
)

// quote renders s as a SOQL string literal.
func quote(s string) string {
	return "'" + soqlEscaper.Replace(s) + "'"
}

// likeSuffix renders a LIKE pattern matching values ending in s.
func likeSuffix(s string) string {
	return "'%" + likeEscaper.Replace(soqlEscaper.Replace(s)) + "'"
}

const sfTimeLayout = "2006-01-02T15:04:05.000-0700"

// sfTime parses the REST API's datetime format.
type sfTime struct{ time.Time }

func (t *sfTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := time.Parse(sfTimeLayout, s)
	if err != nil {
		v, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return err
		}
	}
	t.Time = v.UTC()
	return nil
}
