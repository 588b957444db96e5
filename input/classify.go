package input

import (
	"fmt"
	"strings"

	"github.com/SeanNg93/Gmail-app-password-tester/consts"
)

// FirstDataRow is the 1-based position of the first data row; the header
// occupies row 1.
const FirstDataRow = 2

// Row is one data record of the input table, keyed by header name.
type Row struct {
	Number int // 1-based, header included
	Fields map[string]string
}

// Classify partitions rows into credentials to probe and skip records. Both
// results keep input order.
//
// A row is skipped when the trimmed email or app password is empty. A
// missing email takes precedence over a missing app password.
func Classify(rows []Row) ([]Credential, []Skip) {
	var (
		valid   []Credential
		skipped []Skip
	)

	for _, row := range rows {
		email := strings.TrimSpace(row.Fields[consts.ColumnEmail])
		password := strings.TrimSpace(row.Fields[consts.ColumnAppPassword])

		switch {
		case email == "":
			skipped = append(skipped, Skip{
				Identity: Placeholder(row.Number),
				Row:      row.Number,
				Reason:   MissingEmail,
			})
		case password == "":
			skipped = append(skipped, Skip{
				Identity: email,
				Row:      row.Number,
				Reason:   MissingAppPassword,
			})
		default:
			valid = append(valid, Credential{Email: email, AppPassword: password})
		}
	}

	return valid, skipped
}

// Placeholder names a row that has no email.
func Placeholder(row int) string {
	return fmt.Sprintf("(row %d)", row)
}
