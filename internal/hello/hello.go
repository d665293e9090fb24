// Package hello is the demo service served by the literpc command and used by the
// end-to-end tests. It exercises overloads (three methods share the wire name "hello")
// and versions (a "v2" implementation with a different greeting).
package hello

import (
	"context"
	"errors"
	"fmt"
	"lite-rpc/codec"
	"lite-rpc/server"
)

const Name = "HelloService"

var ErrIO = errors.New("I/O error")

type Person struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

type HelloService interface {
	Hello(name string) (string, error)
	HelloPerson(p Person) (string, error)
	HelloBytes(data []byte) (string, error)
}

func init() {
	if err := codec.Register(Person{}); err != nil {
		panic(err)
	}
}

// Service greets with a fixed prefix.
type Service struct {
	Greeting string
}

func (s *Service) Hello(name string) (string, error) {
	return s.Greeting + " " + name, nil
}

func (s *Service) HelloPerson(p Person) (string, error) {
	if p.Age > 0 {
		return fmt.Sprintf("%s %s (%d)", s.Greeting, p.Name, p.Age), nil
	}
	return s.Greeting + " " + p.Name, nil
}

// HelloBytes always fails; it stands in for an implementation whose I/O breaks.
func (s *Service) HelloBytes(data []byte) (string, error) {
	return "", ErrIO
}

// Overloads maps the Go methods onto the shared wire name "hello".
func Overloads() []server.RegisterOption {
	return []server.RegisterOption{
		server.WithMethodName("HelloPerson", "hello"),
		server.WithMethodName("HelloBytes", "hello"),
	}
}

// Register binds the default ("Hello!") and "v2" ("Hi!") implementations.
func Register(svr *server.Server) error {
	if err := svr.Register((*HelloService)(nil), &Service{Greeting: "Hello!"}, Overloads()...); err != nil {
		return err
	}
	return svr.Register((*HelloService)(nil), &Service{Greeting: "Hi!"}, append(Overloads(), server.WithVersion("v2"))...)
}

// Stub is the client-side view of HelloService, filled by client.Reference.Bind.
type Stub struct {
	Hello       func(ctx context.Context, name string) (string, error)
	HelloPerson func(ctx context.Context, p Person) (string, error)   `rpc:"hello"`
	HelloBytes  func(ctx context.Context, data []byte) (string, error) `rpc:"hello"`
}
