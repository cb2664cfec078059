package models

import (
	"bytes"
	"encoding/json"
	"slices"
	"strings"
)

type Role string

const (
	RoleDirector Role = "Director"
	RoleWriter   Role = "Writer"
	RoleCast     Role = "Cast"
	RoleProducer Role = "Producer"
	RoleNarrator Role = "Narrator"
	RoleComposer Role = "Composer"
)

// Roles is the closed set of people roles in output order.
var Roles = []Role{RoleDirector, RoleWriter, RoleCast, RoleProducer, RoleNarrator, RoleComposer}

var roleAliases = map[string]Role{
	"director":  RoleDirector,
	"directors": RoleDirector,
	"writer":    RoleWriter,
	"writers":   RoleWriter,
	"cast":      RoleCast,
	"starring":  RoleCast,
	"producer":  RoleProducer,
	"producers": RoleProducer,
	"narrator":  RoleNarrator,
	"narrators": RoleNarrator,
	"composer":  RoleComposer,
	"composers": RoleComposer,
	"music":     RoleComposer,
}

// ParseRole maps a page label such as "Directors:" or "Starring" to a role.
func ParseRole(label string) (Role, bool) {
	key := strings.ToLower(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(label), ":")))
	r, ok := roleAliases[key]
	return r, ok
}

// People maps roles to names. Names are unique per role and keep insertion
// order.
type People struct {
	names map[Role][]string
}

func NewPeople() *People {
	return &People{names: make(map[Role][]string)}
}

// Add appends name under role. It reports false for unknown roles, blank
// names and duplicates.
func (p *People) Add(role Role, name string) bool {
	name = strings.TrimSpace(name)
	if name == "" || !slices.Contains(Roles, role) {
		return false
	}
	if p.names == nil {
		p.names = make(map[Role][]string)
	}
	if slices.Contains(p.names[role], name) {
		return false
	}
	p.names[role] = append(p.names[role], name)
	return true
}

func (p *People) Names(role Role) []string {
	if p == nil {
		return nil
	}
	return slices.Clone(p.names[role])
}

func (p *People) Len() int {
	if p == nil {
		return 0
	}
	n := 0
	for _, names := range p.names {
		n += len(names)
	}
	return n
}

// Merge adds other's names after the existing ones.
func (p *People) Merge(other *People) {
	if other == nil {
		return
	}
	for _, role := range Roles {
		for _, name := range other.names[role] {
			p.Add(role, name)
		}
	}
}

func (p *People) Clone() *People {
	c := NewPeople()
	c.Merge(p)
	return c
}

func (p *People) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for _, role := range Roles {
		names := p.names[role]
		if len(names) == 0 {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false

		key, _ := json.Marshal(string(role))
		val, err := json.Marshal(names)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON drops roles outside the closed set.
func (p *People) UnmarshalJSON(data []byte) error {
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.names = make(map[Role][]string)
	for _, role := range Roles {
		for _, name := range raw[string(role)] {
			p.Add(role, name)
		}
	}
	return nil
}
