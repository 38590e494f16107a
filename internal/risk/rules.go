package risk

import "regexp"

type rule struct {
	pattern     *regexp.Regexp
	severity    Severity
	description string
}

func r(pattern string, severity Severity, description string) rule {
	return rule{
		pattern:     regexp.MustCompile(pattern),
		severity:    severity,
		description: description,
	}
}

// Tables are ordered; the first matching rule wins.

var shellRules = []rule{
	r(`\brm\s+(?:-\S+\s+)*(?:-[a-zA-Z]*[rR][a-zA-Z]*|--recursive)(?:\s|$)`, SeverityHigh, "delete files/directories"),
	r(`\b(?:rm|unlink|shred)\s`, SeverityMedium, "delete files"),
	r(`\bsudo\s`, SeverityHigh, "run a command as administrator"),
	r(`\bmkfs(?:\.\w+)?\b|\bdd\s.*\bof=/dev/|\b(?:fdisk|parted|wipefs)\b|>\s*/dev/(?:sd|nvme|disk|hd)`, SeverityHigh, "format or overwrite a disk"),
	r(`\b(?:curl|wget)\b[^|]*\|\s*(?:sudo\s+)?(?:ba|z|k)?sh\b`, SeverityHigh, "download and execute a script"),
	r(`>\s*/(?:etc|usr|bin|sbin|boot|lib|lib64|sys|System)/`, SeverityHigh, "overwrite a system file"),
	r(`\b(?:shutdown|reboot|halt|poweroff)\b|\binit\s+[06]\b`, SeverityHigh, "shut down or reboot the machine"),
	r(`\bch(?:mod|own|grp)\s+(?:\S+\s+)*-[a-zA-Z]*R`, SeverityMedium, "recursively change permissions or ownership"),
	r(`\b(?:kill|pkill|killall)\s`, SeverityMedium, "terminate processes"),
	r(`\btruncate\s|^\s*:?\s*>\s*\S`, SeverityMedium, "truncate files"),
	r(`\bmv\s`, SeverityMedium, "move or rename files"),
}

var gitRules = []rule{
	r(`\bpush\b.*\s(?:--force(?:-with-lease)?|-f)(?:\s|=|$)`, SeverityHigh, "force push"),
	r(`\bpush\b.*\s(?:--delete|-d)(?:\s|$)|\bpush\s+\S+\s+:\S`, SeverityHigh, "delete a remote branch"),
	r(`\breset\b.*\s--hard\b`, SeverityHigh, "hard reset"),
	r(`\bbranch\b.*\s(?:-D|-d|--delete)(?:\s|$)`, SeverityMedium, "delete a branch"),
	r(`\brebase\b`, SeverityMedium, "rebase"),
	r(`\bstash\s+(?:drop|clear)\b`, SeverityMedium, "discard stashed changes"),
	r(`\bcheckout\s+(?:\S+\s+)?--\s+\.(?:\s|$)|\brestore\s+(?:-\S+\s+)*\.(?:\s|$)|\bclean\s+(?:\S+\s+)*-[a-zA-Z]*f`, SeverityHigh, "discard all uncommitted changes"),
}

var fileRules = []rule{
	r(`(?:^|/)\.env(?:\.[\w.-]+)?$`, SeverityHigh, "modify an environment file"),
	r(`(?i)credential`, SeverityHigh, "modify a credentials file"),
	r(`(?i)secret`, SeverityHigh, "modify a secrets file"),
	r(`(?:^|/)\.ssh/`, SeverityHigh, "modify SSH keys or config"),
	r(`(?:^|/)\.(?:aws|azure)/|(?:^|/)\.config/gcloud/`, SeverityHigh, "modify cloud provider config"),
	r(`(?:^|/)\.kube/config$|(?:^|/)kubeconfig(?:\.\w+)?$`, SeverityHigh, "modify Kubernetes config"),
	r(`(?:^|/)\.(?:npmrc|yarnrc(?:\.yml)?|pypirc|netrc|gem/credentials)$|(?:^|/)\.docker/config\.json$`, SeverityHigh, "modify package registry tokens"),
	r(`\.(?:pem|key|p12|pfx)$|(?:^|/)id_(?:rsa|dsa|ecdsa|ed25519)$`, SeverityHigh, "modify a private key"),
}

var (
	// gitCommand matches a git invocation, allowing sudo and env assignments.
	gitCommand = regexp.MustCompile(`^\s*(?:sudo\s+)?(?:\w+=\S*\s+)*git(?:\s|$)`)

	commandSeparator = regexp.MustCompile(`&&|\|\||[;|\n]`)
)
