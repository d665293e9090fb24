package hello

import (
	"errors"
	"lite-rpc/message"
	"lite-rpc/server"
	"testing"
)

func TestService(t *testing.T) {
	s := &Service{Greeting: "Hello!"}
	if got, _ := s.Hello("World"); got != "Hello! World" {
		t.Fatalf("got %q", got)
	}
	if got, _ := s.HelloPerson(Person{Name: "Alice", Age: 30}); got != "Hello! Alice (30)" {
		t.Fatalf("got %q", got)
	}
	if _, err := s.HelloBytes([]byte("x")); !errors.Is(err, ErrIO) {
		t.Fatalf("expect ErrIO, got %v", err)
	}
}

func TestRegister(t *testing.T) {
	svr := server.NewServer()
	if err := Register(svr); err != nil {
		t.Fatal(err)
	}
	// 默认版本已注册，再注册一次必须失败
	err := svr.Register((*HelloService)(nil), &Service{}, Overloads()...)
	if !errors.Is(err, message.ErrDuplicateRegistration) {
		t.Fatalf("expect ErrDuplicateRegistration, got %v", err)
	}
}
