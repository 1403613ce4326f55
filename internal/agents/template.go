package agents

import (
	"context"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"
)

// Vars are the values substituted for {{name}} placeholders in system
// prompts.
type Vars map[string]string

// EnvironmentVars collects date, cwd, home, user, OS and git details for
// the current process. Git values are empty outside a repository.
func EnvironmentVars(ctx context.Context) Vars {
	now := time.Now()
	v := Vars{
		"date":     now.Format(time.DateOnly),
		"datetime": now.Format(time.DateTime),
		"os":       runtime.GOOS,
	}
	if cwd, err := os.Getwd(); err == nil {
		v["cwd"] = cwd
		v["cwd_name"] = filepath.Base(cwd)
	}
	if home, err := os.UserHomeDir(); err == nil {
		v["home"] = home
	}
	if u, err := user.Current(); err == nil {
		v["user"] = u.Username
	}
	v["git_branch"] = git(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if top := git(ctx, "rev-parse", "--show-toplevel"); top != "" {
		v["git_repo"] = filepath.Base(top)
	}
	return v
}

var placeholder = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// Expand replaces known placeholders. Unknown ones are kept verbatim so a
// typo stays visible in the prompt.
func (v Vars) Expand(text string) string {
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		if val, ok := v[name]; ok {
			return val
		}
		return m
	})
}

// Prompt returns the agent's system prompt expanded with v.
func (a *Agent) Prompt(v Vars) string {
	return strings.TrimSpace(v.Expand(a.SystemPrompt))
}

func git(ctx context.Context, args ...string) string {
	out, err := exec.CommandContext(ctx, "git", args...).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
