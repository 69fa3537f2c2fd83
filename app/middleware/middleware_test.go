package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"optqueue/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestCompressBody(t *testing.T) {
	assert.Equal(t, "", CompressBody(""))
	assert.Equal(t, `{"a":1,"b":[1,2]}`, CompressBody("{\n  \"a\": 1,\n  \"b\": [1, 2]\n}"))

	long := `{"k":"` + strings.Repeat("x", 2000) + `"}`
	out := CompressBody(long)
	assert.True(t, strings.HasSuffix(out, "..."))
	assert.Len(t, out, 1003)
}

func TestRecovery_ReturnsEnvelope(t *testing.T) {
	engine := gin.New()
	engine.Use(Recovery())
	engine.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var env model.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, model.StatusError, env.Status)
	require.NotNil(t, env.Error)
}

func TestTraceAndLogger(t *testing.T) {
	engine := gin.New()
	engine.Use(Trace(), Logger())
	engine.POST("/echo", func(c *gin.Context) {
		var body map[string]interface{}
		require.NoError(t, c.ShouldBindJSON(&body))
		c.JSON(http.StatusOK, body)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{ "x" : 1 }`))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(TraceHeader))
	assert.JSONEq(t, `{"x":1}`, rec.Body.String())

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{}`))
	req.Header.Set(TraceHeader, "given")
	engine.ServeHTTP(rec, req)
	assert.Equal(t, "given", rec.Header().Get(TraceHeader))
}
