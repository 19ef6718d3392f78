package system

import (
	"context"
	"errors"
	"testing"
)

type recordedService struct {
	name    string
	failure error
	log     *[]string
}

func (s *recordedService) Name() string { return s.name }

func (s *recordedService) Start(_ context.Context) error {
	*s.log = append(*s.log, "start:"+s.name)
	return s.failure
}

func (s *recordedService) Stop(_ context.Context) error {
	*s.log = append(*s.log, "stop:"+s.name)
	return nil
}

func TestStartStopOrder(t *testing.T) {
	var log []string
	m := NewManager(nil)
	for _, name := range []string{"a", "b", "c"} {
		if err := m.Register(&recordedService{name: name, log: &log}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	want := []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}
	if len(log) != len(want) {
		t.Fatalf("log = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("log[%d] = %s, want %s", i, log[i], want[i])
		}
	}
}

func TestFailedStartUnwindsStartedServices(t *testing.T) {
	var log []string
	m := NewManager(nil)
	_ = m.Register(&recordedService{name: "a", log: &log})
	_ = m.Register(&recordedService{name: "b", failure: errors.New("bind failed"), log: &log})
	_ = m.Register(&recordedService{name: "c", log: &log})

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("start succeeded despite failing service")
	}

	want := []string{"start:a", "start:b", "stop:a"}
	if len(log) != len(want) {
		t.Fatalf("log = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("log[%d] = %s, want %s", i, log[i], want[i])
		}
	}
}

func TestDuplicateNameRejected(t *testing.T) {
	var log []string
	m := NewManager(nil)
	if err := m.Register(&recordedService{name: "a", log: &log}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(&recordedService{name: "a", log: &log}); err == nil {
		t.Fatal("duplicate name accepted")
	}
}

func TestRegisterAfterStartRejected(t *testing.T) {
	var log []string
	m := NewManager(nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Register(&recordedService{name: "late", log: &log}); err == nil {
		t.Fatal("registration after start accepted")
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestNoopService(t *testing.T) {
	svc := NoopService{ServiceName: "placeholder"}
	if svc.Name() != "placeholder" {
		t.Fatalf("name = %s", svc.Name())
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
