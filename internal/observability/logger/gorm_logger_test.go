package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOperationFromSQL(t *testing.T) {
	cases := []struct {
		sql  string
		want string
	}{
		{sql: "SELECT * FROM entitlements", want: "SELECT"},
		{sql: "  insert into entitlement_events (id) values (1)", want: "INSERT"},
		{sql: "(DELETE FROM entitlements);", want: "DELETE"},
		{sql: "VACUUM entitlements", want: "UNKNOWN"},
		{sql: "", want: "UNKNOWN"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, operationFromSQL(tc.sql), tc.sql)
	}
}
