package portal

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Result 是一次站点调用的结果，网络错误同样以 Success=false 表示。
type Result struct {
	Success    bool
	StatusCode int
	Message    string
	RemoteID   string
	Data       map[string]interface{}
}

// Err 在调用失败时返回 *Error。
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	return &Error{StatusCode: r.StatusCode, Message: r.Message}
}

// Error 描述站点调用失败，StatusCode 为 0 表示未拿到响应。
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("portal request failed: %s", e.Message)
	}
	return fmt.Sprintf("portal returned %d: %s", e.StatusCode, e.Message)
}

// decodeEnvelope 解析 {"status": ..., "data": {...}}，非 JSON 或非对象返回 nil。
func decodeEnvelope(body []byte) map[string]interface{} {
	var parsed interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil
	}
	obj, ok := parsed.(map[string]interface{})
	if !ok {
		return nil
	}
	return obj
}

// trustedData 返回信封中的 data 对象；带 status 字段时必须为真值。
func trustedData(envelope map[string]interface{}) map[string]interface{} {
	if envelope == nil {
		return nil
	}
	if status, ok := envelope["status"]; ok && !truthy(status) {
		return nil
	}
	data, _ := envelope["data"].(map[string]interface{})
	return data
}

// ExtractRemoteID 从站点响应中取出 data.id，取不到时返回空串。
func ExtractRemoteID(body []byte) string {
	return idString(trustedData(decodeEnvelope(body))["id"])
}

func idString(v interface{}) string {
	switch id := v.(type) {
	case string:
		return strings.TrimSpace(id)
	case float64:
		if id == math.Trunc(id) {
			return strconv.FormatInt(int64(id), 10)
		}
		return strconv.FormatFloat(id, 'f', -1, 64)
	case json.Number:
		return id.String()
	default:
		return ""
	}
}

func truthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case float64:
		return val != 0
	case string:
		s := strings.ToLower(strings.TrimSpace(val))
		return s != "" && s != "false" && s != "0"
	default:
		return true
	}
}
