package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	commonmw "judgeline/internal/common/http/middleware"
	"judgeline/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
)

type traceResponse struct {
	TraceID   string `json:"trace_id"`
	RequestID string `json:"request_id"`
}

func TestTraceContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(commonmw.TraceContext())
	router.GET("/trace", func(c *gin.Context) {
		ctx := c.Request.Context()
		c.JSON(http.StatusOK, traceResponse{
			TraceID:   contextkey.String(ctx, contextkey.TraceID),
			RequestID: contextkey.String(ctx, contextkey.RequestID),
		})
	})

	cases := []struct {
		name              string
		headers           map[string]string
		expectedTraceID   string
		expectedRequestID string
	}{
		{
			name: "generate trace and request id",
		},
		{
			name: "preserve trace and request id",
			headers: map[string]string{
				commonmw.TraceIDHeader:   "trace-123",
				commonmw.RequestIDHeader: "req-123",
			},
			expectedTraceID:   "trace-123",
			expectedRequestID: "req-123",
		},
		{
			name:    "blank header is replaced",
			headers: map[string]string{commonmw.TraceIDHeader: "   "},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/trace", nil)
			for key, value := range tc.headers {
				req.Header.Set(key, value)
			}
			router.ServeHTTP(rec, req)

			var body traceResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if body.TraceID == "" || body.RequestID == "" {
				t.Fatalf("expected ids in context, got %+v", body)
			}
			if tc.expectedTraceID != "" && body.TraceID != tc.expectedTraceID {
				t.Fatalf("trace id = %q, want %q", body.TraceID, tc.expectedTraceID)
			}
			if tc.expectedRequestID != "" && body.RequestID != tc.expectedRequestID {
				t.Fatalf("request id = %q, want %q", body.RequestID, tc.expectedRequestID)
			}
			if got := rec.Header().Get(commonmw.TraceIDHeader); got != body.TraceID {
				t.Fatalf("response header trace id = %q, want %q", got, body.TraceID)
			}
			if got := rec.Header().Get(commonmw.RequestIDHeader); got != body.RequestID {
				t.Fatalf("response header request id = %q, want %q", got, body.RequestID)
			}
		})
	}
}
