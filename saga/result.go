// Package saga coordinates multi-step workflows across the commerce module
// clients. Sagas are fixed linear step sequences: a failing business check
// returns a structured failure result immediately and later steps never run.
// Downstream transport errors are absorbed the same way as business
// rejections; only configuration errors propagate.
package saga

// Result is the structured outcome of every saga operation. Callers never see
// a raw downstream error: failures carry a human-readable message instead.
type Result struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Ok builds a success result.
func Ok(message string, data map[string]any) Result {
	return Result{Success: true, Message: message, Data: data}
}

// Fail builds a failure result.
func Fail(message string) Result {
	return Result{Success: false, Message: message}
}

// FailWithData builds a failure result carrying detail data, such as the
// itemized list of unavailable products.
func FailWithData(message string, data map[string]any) Result {
	return Result{Success: false, Message: message, Data: data}
}
