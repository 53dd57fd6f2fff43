package logdata

import (
	"strconv"
	"strings"

	"github.com/tinytelemetry/sflogs/internal/model"
)

const selectLogs = "SELECT Id, Application, DurationMilliseconds, LogLength, LogUser.Name, " +
	"Operation, Request, StartTime, Status FROM ApexLog"

// BuildQuery returns the SOQL text for one refresh. The user predicate is
// added only when the scope is narrowed and the user id is known.
func BuildQuery(currentUserOnly bool, userID string) string {
	var b strings.Builder
	b.WriteString(selectLogs)
	if currentUserOnly && userID != "" {
		b.WriteString(" WHERE LogUserId = ")
		b.WriteString(QuoteLiteral(userID))
	}
	b.WriteString(" ORDER BY StartTime DESC LIMIT ")
	b.WriteString(strconv.Itoa(model.MaxLogRecords))
	return b.String()
}

// QuoteLiteral renders s as a single-quoted SOQL string literal.
func QuoteLiteral(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}
