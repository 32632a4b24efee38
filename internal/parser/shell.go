package parser

import (
	"path"
	"regexp"
	"strings"

	"github.com/google/shlex"
)

var knownShells = map[string]string{
	"bash":              "bash",
	"zsh":               "zsh",
	"sh":                "sh",
	"dash":              "sh",
	"fish":              "fish",
	"nu":                "nu",
	"pwsh":              "pwsh",
	"powershell":        "powershell",
	"cmd":               "cmd",
	"git-bash":          "bash",
	"windowspowershell": "powershell",
}

var shellTagRe = regexp.MustCompile(`<shell>\s*([^<\s]+)\s*</shell>`)

// InferShell returns the shell a command line runs under, or "" when
// argv[0] is not a known shell. Windows paths and .exe suffixes are
// accepted: `"C:\Program Files\PowerShell\7\pwsh.exe" -c ls` is "pwsh".
func InferShell(cmdline string) string {
	cmdline = strings.TrimSpace(cmdline)
	if cmdline == "" {
		return ""
	}
	// shlex treats backslashes as escapes; Windows paths need
	// forward slashes to survive tokenizing.
	argv, err := shlex.Split(strings.ReplaceAll(cmdline, `\`, "/"))
	if err != nil || len(argv) == 0 {
		return ""
	}
	return shellName(argv[0])
}

// shellFromArgv is InferShell for an already tokenized command.
func shellFromArgv(argv []string) string {
	if len(argv) == 0 {
		return ""
	}
	return shellName(strings.ReplaceAll(argv[0], `\`, "/"))
}

func shellName(arg0 string) string {
	base := strings.ToLower(path.Base(arg0))
	base = strings.TrimSuffix(base, ".exe")
	return knownShells[base]
}

// shellFromMarker extracts a <shell>name</shell> marker, as written
// into environment context blocks.
func shellFromMarker(text string) string {
	m := shellTagRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	if s := shellName(m[1]); s != "" {
		return s
	}
	return strings.ToLower(m[1])
}
