package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	logger "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Logger"
)

func TestRequestLoggerLevels(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	zl := zerolog.New(&buf)
	router := gin.New()
	router.Use(RequestLogger(&logger.Logger{Logger: &zl}))
	router.GET("/ok", func(ctx *gin.Context) { ctx.Status(http.StatusOK) })
	router.GET("/missing", func(ctx *gin.Context) { ctx.Status(http.StatusNotFound) })
	router.GET("/boom", func(ctx *gin.Context) { ctx.Status(http.StatusBadGateway) })

	cases := []struct {
		path  string
		level string
	}{
		{"/ok?limit=5", "info"},
		{"/missing", "warn"},
		{"/boom", "error"},
	}
	for _, tc := range cases {
		buf.Reset()
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tc.path, nil))

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		require.Equal(t, tc.level, entry["level"], tc.path)
		require.Equal(t, tc.path, entry["path"])
		require.Equal(t, "http", entry["component"])
	}
}
