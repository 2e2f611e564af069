// Package security models the endpoint access policy as a list of
// (principal, rights) grants expressed in SDDL.
package security

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
)

// Principal is an SDDL trustee alias.
type Principal string

// Right is an SDDL generic access right.
type Right string

const (
	AuthenticatedUsers Principal = "AU"
	Administrators     Principal = "BA"
)

const (
	GenericRead  Right = "GR"
	GenericWrite Right = "GW"
	GenericAll   Right = "GA"
)

// DefaultSDDL grants read/write to authenticated users and full control to
// administrators.
const DefaultSDDL = "D:(A;OICI;GRGW;;;AU)(A;OICI;GA;;;BA)"

var (
	ErrMalformed = errors.New("malformed security descriptor")
	ErrReleased  = errors.New("security policy already released")
)

// Grant is one allow entry of the policy.
type Grant struct {
	Principal Principal
	Rights    []Right
}

// Policy is an immutable grant list owned by the endpoint creator.
type Policy struct {
	grants []Grant

	mu       sync.Mutex
	released bool
}

// New parses sddl into a Policy.
func New(sddl string) (*Policy, error) {
	grants, err := ParseSDDL(sddl)
	if err != nil {
		return nil, err
	}
	return &Policy{grants: grants}, nil
}

// Grants returns a copy of the policy's grants.
func (p *Policy) Grants() []Grant {
	out := make([]Grant, 0, len(p.grants))
	for _, g := range p.grants {
		out = append(out, Grant{Principal: g.Principal, Rights: slices.Clone(g.Rights)})
	}
	return out
}

// SDDL renders the policy in canonical form.
func (p *Policy) SDDL() string {
	var b strings.Builder
	b.WriteString("D:")
	for _, g := range p.grants {
		b.WriteString("(A;OICI;")
		for _, r := range g.Rights {
			b.WriteString(string(r))
		}
		b.WriteString(";;;")
		b.WriteString(string(g.Principal))
		b.WriteString(")")
	}
	return b.String()
}

// Allows reports whether principal holds right, directly or through GA.
func (p *Policy) Allows(principal Principal, right Right) bool {
	for _, g := range p.grants {
		if g.Principal != principal {
			continue
		}
		if slices.Contains(g.Rights, right) || slices.Contains(g.Rights, GenericAll) {
			return true
		}
	}
	return false
}

// FileMode maps the grants onto unix permission bits: administrators map to
// the owner class, authenticated users to group and other.
func (p *Policy) FileMode() os.FileMode {
	var mode os.FileMode
	if p.Allows(Administrators, GenericRead) {
		mode |= 0o400
	}
	if p.Allows(Administrators, GenericWrite) {
		mode |= 0o200
	}
	if p.Allows(AuthenticatedUsers, GenericRead) {
		mode |= 0o044
	}
	if p.Allows(AuthenticatedUsers, GenericWrite) {
		mode |= 0o022
	}
	return mode
}

// Release frees the policy. Only the first call succeeds.
func (p *Policy) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.released {
		return ErrReleased
	}
	p.released = true
	p.grants = nil
	return nil
}

// Released reports whether Release has run.
func (p *Policy) Released() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

// ParseSDDL parses the DACL subset "D:(A;flags;rights;;;principal)...".
func ParseSDDL(sddl string) ([]Grant, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(sddl), "D:")
	if !ok {
		return nil, fmt.Errorf("%w: %q must start with D:", ErrMalformed, sddl)
	}
	if rest == "" {
		return nil, fmt.Errorf("%w: %q has no access entries", ErrMalformed, sddl)
	}

	var grants []Grant
	for rest != "" {
		if rest[0] != '(' {
			return nil, fmt.Errorf("%w: expected '(' at %q", ErrMalformed, rest)
		}
		end := strings.IndexByte(rest, ')')
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated entry %q", ErrMalformed, rest)
		}

		grant, err := parseACE(rest[1:end])
		if err != nil {
			return nil, err
		}
		grants = append(grants, grant)
		rest = rest[end+1:]
	}
	return grants, nil
}

// parseACE parses "A;OICI;GRGW;;;AU".
func parseACE(ace string) (Grant, error) {
	fields := strings.Split(ace, ";")
	if len(fields) != 6 {
		return Grant{}, fmt.Errorf("%w: entry %q needs 6 fields, got %d", ErrMalformed, ace, len(fields))
	}
	if fields[0] != "A" {
		return Grant{}, fmt.Errorf("%w: entry %q: only allow entries are supported", ErrMalformed, ace)
	}

	rightsField := fields[2]
	if rightsField == "" || len(rightsField)%2 != 0 {
		return Grant{}, fmt.Errorf("%w: entry %q: invalid rights %q", ErrMalformed, ace, rightsField)
	}
	var rights []Right
	for i := 0; i < len(rightsField); i += 2 {
		r := Right(rightsField[i : i+2])
		switch r {
		case GenericRead, GenericWrite, GenericAll:
		default:
			return Grant{}, fmt.Errorf("%w: entry %q: unknown right %q", ErrMalformed, ace, r)
		}
		if !slices.Contains(rights, r) {
			rights = append(rights, r)
		}
	}

	principal := Principal(fields[5])
	switch principal {
	case AuthenticatedUsers, Administrators:
	default:
		return Grant{}, fmt.Errorf("%w: entry %q: unknown principal %q", ErrMalformed, ace, principal)
	}

	return Grant{Principal: principal, Rights: rights}, nil
}
