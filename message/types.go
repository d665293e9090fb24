package message

import (
	"reflect"
	"sync"
)

var (
	typeNamesMu sync.RWMutex
	typeNames   = make(map[reflect.Type]string)
	bytesType   = reflect.TypeOf([]byte(nil))
)

// RegisterTypeName overrides the descriptor of sample's type. Client and server must agree on
// descriptors, so a type declared in different packages on each side needs the same name here.
func RegisterTypeName(sample any, name string) {
	typeNamesMu.Lock()
	defer typeNamesMu.Unlock()
	typeNames[reflect.TypeOf(sample)] = name
}

// TypeDescriptor returns the canonical descriptor of t used for overload resolution.
func TypeDescriptor(t reflect.Type) string {
	typeNamesMu.RLock()
	name, ok := typeNames[t]
	typeNamesMu.RUnlock()
	if ok {
		return name
	}
	if t == bytesType {
		return "[]byte"
	}
	return t.String()
}

// TypeDescriptors maps TypeDescriptor over ts.
func TypeDescriptors(ts []reflect.Type) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = TypeDescriptor(t)
	}
	return out
}
