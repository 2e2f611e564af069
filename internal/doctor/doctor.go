// Package doctor runs readiness diagnostics for config, security, message limits, and the endpoint.
package doctor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rbright/samplepipe/internal/config"
	"github.com/rbright/samplepipe/internal/message"
	"github.com/rbright/samplepipe/internal/pipe"
	"github.com/rbright/samplepipe/internal/security"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes config/security/endpoint checks for a loaded config.
func Run(cfg config.Loaded) Report {
	checks := []Check{}

	checks = append(checks, Check{
		Name:    "config",
		Pass:    true,
		Message: fmt.Sprintf("loaded %q", cfg.Path),
	})

	checks = append(checks, checkSecurity(cfg.Config.Security.SDDL))
	checks = append(checks, checkMessageFits("client.request", cfg.Config.Client.Request, cfg.Config.Pipe.MaxMessageUnits))
	checks = append(checks, checkMessageFits("server.response", cfg.Config.Server.Response, cfg.Config.Pipe.MaxMessageUnits))

	if runtime.GOOS != "windows" {
		checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
			return strings.TrimSpace(v) != ""
		}, "endpoints live under XDG_RUNTIME_DIR", "XDG_RUNTIME_DIR is empty; endpoints fall back to "+os.TempDir()))
	}

	checks = append(checks, checkEndpoint(pipe.Address(cfg.Config.Pipe.Name)))

	return Report{Checks: checks}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkSecurity builds the access policy the server would attach.
func checkSecurity(sddl string) Check {
	policy, err := security.New(sddl)
	if err != nil {
		return Check{Name: "security.sddl", Pass: false, Message: err.Error()}
	}
	defer func() { _ = policy.Release() }()

	grants := make([]string, 0, len(policy.Grants()))
	for _, g := range policy.Grants() {
		rights := make([]string, 0, len(g.Rights))
		for _, r := range g.Rights {
			rights = append(rights, string(r))
		}
		grants = append(grants, string(g.Principal)+":"+strings.Join(rights, ""))
	}
	return Check{
		Name:    "security.sddl",
		Pass:    true,
		Message: fmt.Sprintf("grants %s (socket mode %#o)", strings.Join(grants, " "), policy.FileMode()),
	}
}

// checkMessageFits reports how much of the unit budget text uses.
func checkMessageFits(name, text string, maxUnits int) Check {
	units := message.Units(text)
	if units > maxUnits {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("%d units exceeds limit %d", units, maxUnits)}
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("%d of %d units (%d bytes)", units, maxUnits, message.MaxBytes(units))}
}

// checkEndpoint reports whether an endpoint currently exists at address
// without attaching to it, since attaching would consume the only instance.
func checkEndpoint(address string) Check {
	info, err := os.Stat(address)
	if errors.Is(err, os.ErrNotExist) {
		if runtime.GOOS != "windows" {
			if _, dirErr := os.Stat(filepath.Dir(address)); dirErr != nil {
				return Check{Name: "endpoint", Pass: false, Message: fmt.Sprintf("directory for %s is not accessible: %v", address, dirErr)}
			}
		}
		return Check{Name: "endpoint", Pass: true, Message: fmt.Sprintf("no endpoint at %s; server is not running", address)}
	}
	if err != nil {
		return Check{Name: "endpoint", Pass: false, Message: fmt.Sprintf("stat %s: %v", address, err)}
	}
	if runtime.GOOS != "windows" && info.Mode()&os.ModeSocket == 0 {
		return Check{Name: "endpoint", Pass: false, Message: fmt.Sprintf("%s exists but is not a socket", address)}
	}
	return Check{Name: "endpoint", Pass: true, Message: fmt.Sprintf("endpoint present at %s", address)}
}
