package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/huangang/feedbackloop/internal/services"
)

const maxAuditBody = 2000

var sensitiveKeys = []string{"password", "api_key", "secret", "token", "access_token", "webhook"}

// AuditLog records operator write operations (POST/PUT/DELETE) to system_logs.
func AuditLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		method := c.Request.Method
		if method != "POST" && method != "PUT" && method != "DELETE" {
			c.Next()
			return
		}

		var bodySnippet string
		if c.Request.Body != nil {
			bodyBytes, _ := io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			bodySnippet = maskSensitiveFields(bodyBytes)
			if len(bodySnippet) > maxAuditBody {
				bodySnippet = bodySnippet[:maxAuditBody] + "...[truncated]"
			}
		}

		c.Next()

		status := c.Writer.Status()
		module, action := parseRouteInfo(c.FullPath(), method)
		outcome := "OK"
		if status < 200 || status >= 300 {
			outcome = "Failed"
		}

		services.LogRequestInfo(module, action, "[Audit] "+method+" "+c.Request.URL.Path+": "+outcome, c.ClientIP(), map[string]interface{}{
			"method": method,
			"path":   c.Request.URL.Path,
			"status": status,
			"body":   bodySnippet,
		})
	}
}

// parseRouteInfo maps "/api/im-bots/:id" + "PUT" to ("IM-Bots", "Update").
func parseRouteInfo(fullPath, method string) (module, action string) {
	path := strings.TrimPrefix(fullPath, "/api/")
	module = strings.SplitN(path, "/", 2)[0]
	if module == "" {
		module = "unknown"
	}

	words := strings.Split(module, "-")
	for i, w := range words {
		switch w {
		case "im", "llm":
			words[i] = strings.ToUpper(w)
		default:
			if w != "" {
				words[i] = strings.ToUpper(w[:1]) + w[1:]
			}
		}
	}
	module = strings.Join(words, "-")

	switch method {
	case "POST":
		action = "Create"
	case "PUT":
		action = "Update"
	case "DELETE":
		action = "Delete"
	default:
		action = method
	}
	return module, action
}

// maskSensitiveFields replaces secret values in a JSON object body. Bodies
// that are not JSON objects are dropped.
func maskSensitiveFields(body []byte) string {
	if len(bytes.TrimSpace(body)) == 0 {
		return ""
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return "[unparsed body]"
	}
	for key := range fields {
		lower := strings.ToLower(key)
		for _, s := range sensitiveKeys {
			if strings.Contains(lower, s) {
				fields[key] = "***"
				break
			}
		}
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return "[unparsed body]"
	}
	return string(out)
}
