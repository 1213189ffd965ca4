package config

import "fmt"

// FieldError 提供字段路径与错误原因，便于 CLI 向用户反馈。
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// newFieldError 创建包含字段路径与原因的 error，便于 CLI 定位。
func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

// workerField 用于拼接 Worker 级字段路径，清单条目会带上下标。
func workerField(field string, index ...int) string {
	if len(index) == 0 {
		return fmt.Sprintf("Worker.%s", field)
	}
	return fmt.Sprintf("Worker.%s[%d]", field, index[0])
}
