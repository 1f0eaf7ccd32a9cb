package waf

import (
	"regexp"
	"strings"
)

// target is the set of request parts a rule inspects.
type target int

const (
	targetPath target = 1 << iota
	targetQuery
	targetHeaders
	targetUA
	targetURI
)

type rule struct {
	name    string
	targets target
	pattern *regexp.Regexp
}

type ruleSpec struct {
	name         string
	targets      target
	alternatives []string
}

var ruleSpecs = []ruleSpec{
	{
		name:    "sql-injection",
		targets: targetPath | targetQuery | targetHeaders,
		alternatives: []string{
			`union\s+(?:all\s+)?select`,
			`;\s*(?:drop|delete|insert|update|alter)\s`,
			`'\s*(?:or|and)\s+['"\d].*=`,
			`"\s*(?:or|and)\s+['"\d].*=`,
			`'\s*;\s*--`,
			`/\*[^*]*\*/`,
			`(?:0x[0-9a-f]+|x'[0-9a-f]+')`,
			`(?:benchmark|sleep|waitfor)\s*\(`,
			`(?:load_file|into\s+outfile|into\s+dumpfile)\s*\(`,
		},
	},
	{
		name:    "xss",
		targets: targetPath | targetQuery | targetHeaders,
		alternatives: []string{
			`<\s*script`,
			`javascript\s*:`,
			`\bon\w+\s*=`,
			`<\s*img[^>]+onerror`,
			`document\s*\.\s*(?:cookie|location|write)`,
			`<\s*(?:iframe|object|embed|form|svg|math)[\s>]`,
			`(?:alert|confirm|prompt|eval)\s*\(`,
		},
	},
	{
		name:         "path-traversal",
		targets:      targetURI,
		alternatives: []string{`\.\.[\\/]`, `\.\.%2f`, `\.\.%5c`, `%00`},
	},
	{
		name:    "shell-injection",
		targets: targetQuery | targetHeaders,
		alternatives: []string{
			`\$\(`,
			"`[^`]+`",
			`\|\s*(?:cat|ls|curl|wget|nc|bash|sh|python|perl|ruby|chmod|chown)\b`,
			`;\s*(?:cat|ls|curl|wget|nc|bash|sh|python|perl|ruby|chmod|chown)\b`,
		},
	},
	{
		name:         "log4shell-jndi",
		targets:      targetPath | targetQuery | targetHeaders,
		alternatives: []string{`\$\{.*?(?:jndi|java)\s*:`},
	},
	{
		name:    "scanner-ua",
		targets: targetUA,
		alternatives: []string{
			`sqlmap`, `nikto`, `nmap`, `masscan`, `dirbuster`, `gobuster`,
			`nuclei`, `zgrab`, `httpx-toolkit`, `nessus`, `openvas`,
			`acunetix`, `w3af`, `arachni`, `burpsuite`, `havij`, `commix`,
		},
	},
	{
		name:         "header-injection",
		targets:      targetHeaders,
		alternatives: []string{`[\r\n]`},
	},
	{
		name:    "sensitive-file-probe",
		targets: targetPath,
		alternatives: []string{
			`/\.env`, `/\.git/`, `/\.git$`, `/wp-admin`, `/wp-login`, `/phpmy`,
			`/cgi-bin/`, `/\.aws/`, `/\.ssh/`, `/etc/passwd`, `/etc/shadow`,
			`/\.docker/`, `/\.kube/`, `/\.config/`, `/wp-content/uploads/`,
			`/autodiscover/`,
		},
	},
	{
		name:         "protocol-attack",
		targets:      targetQuery | targetHeaders,
		alternatives: []string{`<\?(?:php|=)`, `<%[^>]*%>`, `\bdata\s*:.*base64`},
	},
}

// defaultRules compiles ruleSpecs. All patterns are case-insensitive; a
// bad pattern panics at startup.
func defaultRules() []rule {
	out := make([]rule, 0, len(ruleSpecs))
	for _, spec := range ruleSpecs {
		out = append(out, rule{
			name:    spec.name,
			targets: spec.targets,
			pattern: regexp.MustCompile(`(?i)(?:` + strings.Join(spec.alternatives, "|") + `)`),
		})
	}
	return out
}
