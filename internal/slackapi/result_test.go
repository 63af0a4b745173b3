package slackapi

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultEncoding(t *testing.T) {
	ok := OK(DM{OK: true, Channel: "D1"})
	b, err := json.Marshal(ok)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true,"channel":"D1"}`, string(b))

	failed := Fail[DM](CodeTimeout, "")
	b, err = json.Marshal(failed)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":false,"error":"timeout"}`, string(b))
	assert.Equal(t, "timeout", failed.Failure().Error())

	_, isOK := failed.Value()
	assert.False(t, isOK)
}
