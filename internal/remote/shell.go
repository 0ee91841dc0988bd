package remote

import "strings"

// Join renders cmd and args as one shell-quoted command line.
func Join(cmd string, args ...string) string {
	if len(args) == 0 {
		return ShellQuote(cmd)
	}

	var builder strings.Builder
	builder.WriteString(ShellQuote(cmd))
	for _, arg := range args {
		builder.WriteByte(' ')
		builder.WriteString(ShellQuote(arg))
	}

	return builder.String()
}

// ShellQuote single-quotes value unless it only holds characters that are
// safe unquoted.
func ShellQuote(value string) string {
	if value == "" {
		return "''"
	}
	if isShellSafe(value) {
		return value
	}

	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}

// Within prefixes command so it runs from dir.
func Within(dir, command string) string {
	if strings.TrimSpace(dir) == "" {
		return command
	}
	return "cd " + ShellQuote(dir) + " && " + command
}

func isShellSafe(value string) bool {
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '/', c == '.', c == '-', c == '_', c == '=', c == ':', c == ',', c == '@', c == '+':
		default:
			return false
		}
	}
	return true
}
