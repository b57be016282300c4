package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	clierr "github.com/ggonzalez94/swagcli/internal/errors"
	"github.com/ggonzalez94/swagcli/internal/model"
	"github.com/ggonzalez94/swagcli/internal/out"
)

var fallbackStatusMessages = map[int]string{
	403: "Access unauthorized",
	404: "Resource not found",
	500: "An Internal Server error occurred",
}

// route turns an executed response into either a success envelope or an
// http_status error carrying the decoded body.
func (s *runtimeState) route(commandPath string, responses map[string]string, resp *model.Response) error {
	s.lastHTTP = resp.HTTPStatus()
	data := decodeBody(resp.Body)

	if !resp.OK() {
		return clierr.New(clierr.CodeHTTPStatus, statusMessage(resp.StatusCode, responses)).
			WithDetail(map[string]any{"status": resp.StatusCode, "body": data})
	}

	data = s.hooks.PrehookResponse(data)
	if s.settings.JSONPath != "" {
		filtered, err := out.ApplyJSONPath(data, s.settings.JSONPath)
		if err != nil {
			return err
		}
		data = filtered
	}
	return s.emitSuccess(commandPath, data, resp.CacheStatus(), resp.HTTPStatus())
}

// statusMessage prefers the document's own description for the status, then
// a built-in message, then the "default" response.
func statusMessage(status int, responses map[string]string) string {
	if msg := responses[strconv.Itoa(status)]; msg != "" {
		return msg
	}
	if msg, ok := fallbackStatusMessages[status]; ok {
		return msg
	}
	if msg := responses["default"]; msg != "" {
		return msg
	}
	return fmt.Sprintf("request failed with status %d", status)
}

// decodeBody returns the JSON document in body, or the raw text when the
// body is not JSON.
func decodeBody(body []byte) any {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	var doc any
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return string(body)
	}
	return doc
}
