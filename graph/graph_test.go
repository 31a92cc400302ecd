package graph

import (
	"context"
	"strings"
	"testing"
)

func passThrough(name string) NodeFunc {
	return func(_ context.Context, s State) (State, error) {
		trail, _ := s["trail"].(string)
		s["trail"] = trail + name + ";"
		return s, nil
	}
}

func TestLinearExecution(t *testing.T) {
	g := NewBuilder().
		AddNode("start", NodeTypeStart, passThrough("start")).
		AddNode("work", NodeTypeCustom, passThrough("work")).
		AddNode("end", NodeTypeEnd, passThrough("end")).
		AddEdge("start", "work").
		AddEdge("work", "end").
		SetStart("start").
		Build()

	out, err := g.Execute(context.Background(), State{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := out["trail"]; got != "start;work;end;" {
		t.Errorf("trail = %q, want start;work;end;", got)
	}
}

func TestConditionRouting(t *testing.T) {
	cond := func(_ context.Context, s State) (string, error) {
		if s["go_left"] == true {
			return "left", nil
		}
		return "right", nil
	}

	g := NewBuilder().
		AddNode("start", NodeTypeStart, passThrough("start")).
		AddConditionNode("route", cond, map[string]string{
			"left":  "left",
			"right": "right",
		}).
		AddNode("left", NodeTypeEnd, passThrough("left")).
		AddNode("right", NodeTypeEnd, passThrough("right")).
		AddEdge("start", "route").
		SetStart("start").
		Build()

	out, err := g.Execute(context.Background(), State{"go_left": true})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := out["trail"]; got != "start;left;" {
		t.Errorf("trail = %q, want start;left;", got)
	}

	out, err = g.Execute(context.Background(), State{"go_left": false})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := out["trail"]; got != "start;right;" {
		t.Errorf("trail = %q, want start;right;", got)
	}
}

func TestLoopBoundedByMaxVisits(t *testing.T) {
	cond := func(_ context.Context, s State) (string, error) {
		return "again", nil
	}

	g := NewBuilder().
		AddNode("start", NodeTypeStart, passThrough("start")).
		AddConditionNode("route", cond, map[string]string{
			"again": "start",
			"done":  "end",
		}).
		AddNode("end", NodeTypeEnd, passThrough("end")).
		AddEdge("start", "route").
		SetStart("start").
		SetMaxVisits(3).
		Build()

	_, err := g.Execute(context.Background(), State{})
	if err == nil {
		t.Fatal("expected infinite loop error")
	}
	if !strings.Contains(err.Error(), "infinite loop") {
		t.Errorf("err = %v, want infinite loop detection", err)
	}
}

func TestLoopUnderLimitCompletes(t *testing.T) {
	count := 0
	cond := func(_ context.Context, s State) (string, error) {
		count++
		if count < 3 {
			return "again", nil
		}
		return "done", nil
	}

	g := NewBuilder().
		AddNode("start", NodeTypeStart, passThrough("start")).
		AddConditionNode("route", cond, map[string]string{
			"again": "start",
			"done":  "end",
		}).
		AddNode("end", NodeTypeEnd, passThrough("end")).
		AddEdge("start", "route").
		SetStart("start").
		SetMaxVisits(5).
		Build()

	out, err := g.Execute(context.Background(), State{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := out["trail"]; got != "start;start;start;end;" {
		t.Errorf("trail = %q", got)
	}
}

func TestUnknownConditionLabelFails(t *testing.T) {
	cond := func(_ context.Context, s State) (string, error) {
		return "nowhere", nil
	}

	g := NewBuilder().
		AddNode("start", NodeTypeStart, passThrough("start")).
		AddConditionNode("route", cond, map[string]string{"done": "end"}).
		AddNode("end", NodeTypeEnd, passThrough("end")).
		AddEdge("start", "route").
		SetStart("start").
		Build()

	_, err := g.Execute(context.Background(), State{})
	if err == nil {
		t.Fatal("expected routing error for unknown label")
	}
}

func TestCancelledContextStopsExecution(t *testing.T) {
	g := NewBuilder().
		AddNode("start", NodeTypeStart, passThrough("start")).
		AddNode("end", NodeTypeEnd, passThrough("end")).
		AddEdge("start", "end").
		SetStart("start").
		Build()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Execute(ctx, State{})
	if err == nil {
		t.Fatal("expected context error")
	}
}
