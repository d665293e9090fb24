package server

import (
	"fmt"
	"lite-rpc/message"
	"sort"
)

type serviceKey struct {
	name    string
	version string
}

// serviceMap is filled before Serve and only read afterwards, so lookups take no lock.
type serviceMap struct {
	services map[serviceKey]*service
}

func newServiceMap() *serviceMap {
	return &serviceMap{services: make(map[serviceKey]*service)}
}

func (m *serviceMap) add(s *service) error {
	k := serviceKey{s.name, s.version}
	if _, ok := m.services[k]; ok {
		return fmt.Errorf("%w: %s", message.ErrDuplicateRegistration, message.ServiceKey(s.name, s.version))
	}
	m.services[k] = s
	return nil
}

func (m *serviceMap) lookup(name, version string) (*service, error) {
	s, ok := m.services[serviceKey{name, version}]
	if !ok {
		return nil, fmt.Errorf("%w: %s", message.ErrServiceNotFound, message.ServiceKey(name, version))
	}
	return s, nil
}

// names returns the distinct interface names, sorted.
func (m *serviceMap) names() []string {
	seen := make(map[string]bool)
	var out []string
	for k := range m.services {
		if !seen[k.name] {
			seen[k.name] = true
			out = append(out, k.name)
		}
	}
	sort.Strings(out)
	return out
}

func (m *serviceMap) list() []*service {
	out := make([]*service, 0, len(m.services))
	for _, s := range m.services {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].name != out[j].name {
			return out[i].name < out[j].name
		}
		return out[i].version < out[j].version
	})
	return out
}
