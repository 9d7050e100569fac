package models

// RequestInfo 存储了关于 HTTP 请求的上下文信息。
type RequestInfo struct {
	Method     string `json:"method"`
	Path       string `json:"path"`
	RemoteAddr string `json:"remote_addr"`
	UserAgent  string `json:"user_agent"`
	Status     int    `json:"status,omitempty"`
	LatencyMs  int64  `json:"latency_ms,omitempty"`
}

// ErrorInfo 存储了关于错误的结构化信息。
type ErrorInfo struct {
	Message    string `json:"message"`
	Stack      string `json:"stack,omitempty"`       // 错误的堆栈信息
	Type       string `json:"type,omitempty"`        // 错误的类型，例如 "upstream_error", "parse_error"
	StatusCode int    `json:"status_code,omitempty"` // 相关的HTTP状态码
	Body       string `json:"body,omitempty"`        // 上游返回的响应体（已截断）
}

// NewErrorInfo 根据 error 构建 ErrorInfo。
func NewErrorInfo(err error, errType string) ErrorInfo {
	if err == nil {
		return ErrorInfo{Type: errType}
	}
	return ErrorInfo{Message: err.Error(), Type: errType}
}
