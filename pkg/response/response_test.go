package response

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaginated(t *testing.T) {
	page := Paginated(200, []string{"a"}, 41, 2, 20)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 0, Paginated(200, nil, 0, 1, 20).TotalPages)

	raw, err := json.Marshal(page)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"success","status_code":200,"data":["a"],"total":41,"page":2,"limit":20,"totalPages":3}`, string(raw))
}

func TestErrorWithCode(t *testing.T) {
	raw, err := json.Marshal(ErrorWithCode(409, "state_conflict", "request is already approved"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"error","status_code":409,"error":"request is already approved","code":"state_conflict"}`, string(raw))
}
