package auth

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// GrantAll in a grant's permission list expands to every permission known to
// the store at bootstrap time.
const GrantAll = "*"

//go:embed baseline.yaml
var defaultBaselineYAML []byte

type BaselineEntry struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type BaselineGrant struct {
	Role        string   `yaml:"role"`
	Permissions []string `yaml:"permissions"`
}

// Baseline is the minimal role and permission set a deployment needs.
type Baseline struct {
	Roles       []BaselineEntry `yaml:"roles"`
	Permissions []BaselineEntry `yaml:"permissions"`
	Grants      []BaselineGrant `yaml:"grants"`
}

// BootstrapReport counts rows inserted by a bootstrap run. A rerun against an
// already bootstrapped store reports zeros.
type BootstrapReport struct {
	RolesCreated       int `json:"roles_created"`
	PermissionsCreated int `json:"permissions_created"`
	GrantsCreated      int `json:"grants_created"`
}

// DefaultBaseline returns the embedded baseline.
func DefaultBaseline() (Baseline, error) {
	return LoadBaseline(bytes.NewReader(defaultBaselineYAML))
}

// LoadBaselineFile reads a baseline document from path.
func LoadBaselineFile(path string) (Baseline, error) {
	f, err := os.Open(path)
	if err != nil {
		return Baseline{}, fmt.Errorf("open baseline: %w", err)
	}
	defer f.Close()
	return LoadBaseline(f)
}

// LoadBaseline decodes and validates a YAML baseline document.
func LoadBaseline(r io.Reader) (Baseline, error) {
	var b Baseline
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&b); err != nil {
		if errors.Is(err, io.EOF) {
			return Baseline{}, fmt.Errorf("%w: baseline document is empty", ErrInvalidInput)
		}
		return Baseline{}, fmt.Errorf("%w: decode baseline: %v", ErrInvalidInput, err)
	}
	if err := b.Validate(); err != nil {
		return Baseline{}, err
	}
	return b, nil
}

// Validate normalizes names and checks that every grant references a role
// and permissions declared in the document.
func (b *Baseline) Validate() error {
	roles := make(map[string]struct{}, len(b.Roles))
	for i := range b.Roles {
		name, err := normalizeRoleName(b.Roles[i].Name)
		if err != nil {
			return err
		}
		if _, dup := roles[name]; dup {
			return fmt.Errorf("%w: duplicate baseline role %q", ErrInvalidInput, name)
		}
		roles[name] = struct{}{}
		b.Roles[i].Name = name
		b.Roles[i].Description = strings.TrimSpace(b.Roles[i].Description)
	}
	perms := make(map[string]struct{}, len(b.Permissions))
	for i := range b.Permissions {
		name, err := normalizePermissionName(b.Permissions[i].Name)
		if err != nil {
			return err
		}
		if _, dup := perms[name]; dup {
			return fmt.Errorf("%w: duplicate baseline permission %q", ErrInvalidInput, name)
		}
		perms[name] = struct{}{}
		b.Permissions[i].Name = name
		b.Permissions[i].Description = strings.TrimSpace(b.Permissions[i].Description)
	}
	for i, g := range b.Grants {
		role := strings.ToLower(strings.TrimSpace(g.Role))
		if _, ok := roles[role]; !ok {
			return fmt.Errorf("%w: grant references unknown role %q", ErrInvalidInput, g.Role)
		}
		b.Grants[i].Role = role
		for j, p := range g.Permissions {
			p = strings.TrimSpace(p)
			if p == GrantAll {
				b.Grants[i].Permissions[j] = p
				continue
			}
			p = strings.ToLower(p)
			if _, ok := perms[p]; !ok {
				return fmt.Errorf("%w: grant for %q references unknown permission %q", ErrInvalidInput, role, p)
			}
			b.Grants[i].Permissions[j] = p
		}
	}
	return nil
}
