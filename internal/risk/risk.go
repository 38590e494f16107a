// Package risk classifies assistant tool invocations by how destructive they
// could be and whether the user must confirm them before they run.
package risk

import (
	"fmt"
	"strings"
)

// Category groups tool invocations that share a confirmation toggle.
type Category string

const (
	CategoryShell     Category = "shell"
	CategoryGit       Category = "git"
	CategoryFileWrite Category = "file_write"
)

// Severity is the damage potential of an action.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Toggles enables confirmation per category.
type Toggles struct {
	Shell     bool
	Git       bool
	FileWrite bool
}

// AllEnabled returns toggles requiring confirmation in every category.
func AllEnabled() Toggles {
	return Toggles{Shell: true, Git: true, FileWrite: true}
}

func (t Toggles) enabled(c Category) bool {
	switch c {
	case CategoryShell:
		return t.Shell
	case CategoryGit:
		return t.Git
	case CategoryFileWrite:
		return t.FileWrite
	}
	return false
}

// Classification is the result of classifying one tool invocation.
type Classification struct {
	ToolName             string
	Category             Category
	Subject              string
	Description          string
	Severity             Severity
	RequiresConfirmation bool
}

func (c Classification) String() string {
	return fmt.Sprintf("%s %s: %s (%s)", c.Severity, c.Category, c.Description, c.Subject)
}

var (
	shellTools = map[string]bool{"bash": true, "shell": true, "run_command": true, "exec": true, "terminal": true}
	fileTools  = map[string]bool{"write": true, "edit": true, "write_file": true, "create_file": true, "patch": true, "multiedit": true}
)

// Classify inspects a tool invocation. The boolean is false for tools outside
// the known categories and for commands that match no rule.
func Classify(toolName string, args map[string]any, toggles Toggles) (Classification, bool) {
	name := strings.ToLower(strings.TrimSpace(toolName))

	var (
		cls Classification
		ok  bool
	)
	switch {
	case name == "git":
		command := stringArg(args, "command", "cmd", "args")
		cls, ok = match(gitRules, CategoryGit, command)
	case shellTools[name]:
		command := stringArg(args, "command", "cmd")
		cls, ok = classifyShell(command)
	case fileTools[name]:
		path := stringArg(args, "filePath", "file_path", "path")
		cls, ok = match(fileRules, CategoryFileWrite, path)
		if !ok {
			cls = Classification{
				Category:    CategoryFileWrite,
				Subject:     path,
				Description: "create/modify file",
				Severity:    SeverityLow,
			}
			ok = true
		}
	}
	if !ok {
		return Classification{}, false
	}

	cls.ToolName = toolName
	cls.RequiresConfirmation = cls.Severity != SeverityLow && toggles.enabled(cls.Category)
	return cls, true
}

// classifyShell checks every git invocation in a compound command against the
// git table and the whole command against the shell table. The more severe
// match wins; git wins a tie.
func classifyShell(command string) (Classification, bool) {
	var (
		git   Classification
		gitOK bool
	)
	for _, segment := range commandSeparator.Split(command, -1) {
		if !gitCommand.MatchString(segment) {
			continue
		}
		if c, ok := match(gitRules, CategoryGit, segment); ok && (!gitOK || rank(c.Severity) > rank(git.Severity)) {
			git, gitOK = c, true
		}
	}
	shell, shellOK := match(shellRules, CategoryShell, command)

	switch {
	case gitOK && (!shellOK || rank(git.Severity) >= rank(shell.Severity)):
		git.Subject = command
		return git, true
	case shellOK:
		return shell, true
	}
	return Classification{}, false
}

func rank(s Severity) int {
	switch s {
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	}
	return 0
}

func match(rules []rule, category Category, subject string) (Classification, bool) {
	if strings.TrimSpace(subject) == "" {
		return Classification{}, false
	}
	for _, rl := range rules {
		if rl.pattern.MatchString(subject) {
			return Classification{
				Category:    category,
				Subject:     subject,
				Description: rl.description,
				Severity:    rl.severity,
			}, true
		}
	}
	return Classification{}, false
}

// stringArg returns the first present key rendered as a string. Slices are
// joined with spaces so argv-style arguments read like a command line.
func stringArg(args map[string]any, keys ...string) string {
	for _, key := range keys {
		v, ok := args[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			return val
		case []string:
			return strings.Join(val, " ")
		case []any:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				parts = append(parts, fmt.Sprint(p))
			}
			return strings.Join(parts, " ")
		default:
			return fmt.Sprint(val)
		}
	}
	return ""
}
