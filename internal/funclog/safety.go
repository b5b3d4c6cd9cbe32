package funclog

import (
	"strings"

	"github.com/reaatech/funcdock/internal/apperrors"
)

const maxFunctionNameLen = 50

// SanitizeFunctionName rejects, with InvalidPath, an empty name, "." or
// "..", and any name containing a path separator, and truncates longer
// names to maxFunctionNameLen, so a function name can never be used to
// escape logDir/functions via a crafted package name (e.g. "../../etc").
func SanitizeFunctionName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperrors.InvalidPath("function name is empty")
	}
	if strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return "", apperrors.InvalidPath("function name must not contain path separators")
	}
	if len(name) > maxFunctionNameLen {
		name = name[:maxFunctionNameLen]
	}
	return name, nil
}
