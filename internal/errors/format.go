package errors

import (
	"fmt"
	"strings"
)

// FormatForCLI formats an error for terminal display: message first,
// hint when available, stable code last for reference.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	qe, ok := err.(*QuarryError)
	if !ok {
		qe = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", qe.Message)
	if qe.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", qe.Suggestion)
	}
	fmt.Fprintf(&sb, "  Code: %s\n", qe.Code)
	return sb.String()
}

// FormatForLog flattens an error into key=value pairs for log attributes.
func FormatForLog(err error) map[string]string {
	if err == nil {
		return nil
	}

	attrs := make(map[string]string)
	if qe, ok := err.(*QuarryError); ok {
		attrs["code"] = qe.Code
		attrs["category"] = string(qe.Category)
		attrs["severity"] = string(qe.Severity)
		if qe.Cause != nil {
			attrs["cause"] = qe.Cause.Error()
		}
		for k, v := range qe.Details {
			attrs["detail_"+k] = v
		}
		attrs["message"] = qe.Message
		return attrs
	}

	attrs["message"] = err.Error()
	return attrs
}
