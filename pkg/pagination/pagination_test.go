package pagination

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name  string
		query string
		want  Params
	}{
		{name: "defaults", query: "", want: Params{Page: 1, Limit: 20, Offset: 0}},
		{name: "explicit", query: "page=3&limit=10", want: Params{Page: 3, Limit: 10, Offset: 20}},
		{name: "garbage", query: "page=abc&limit=-4", want: Params{Page: 1, Limit: 20, Offset: 0}},
		{name: "limit capped", query: "page=2&limit=1000", want: Params{Page: 2, Limit: 100, Offset: 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest("GET", "/?"+tt.query, nil)
			assert.Equal(t, tt.want, Parse(c))
		})
	}
}
