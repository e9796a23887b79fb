package config_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/nvollmar/backchannel/internal/config"
	"github.com/nvollmar/backchannel/pkg/provider/reaction"
)

type stubClassifier struct {
	name string
}

func (s *stubClassifier) Classify(_ context.Context, _ string, _ reaction.Context) (string, error) {
	return s.name, nil
}

func TestRegistry_RegisterAndCreate(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	r.RegisterClassifier("stub", func(cfg config.ClassifierConfig) (reaction.Classifier, error) {
		return &stubClassifier{name: cfg.Model}, nil
	})

	c, err := r.CreateClassifier(config.ClassifierConfig{Name: "stub", Model: "m1"})
	if err != nil {
		t.Fatalf("CreateClassifier: %v", err)
	}
	got, err := c.Classify(context.Background(), "hi", reaction.Context{})
	if err != nil || got != "m1" {
		t.Errorf("Classify = %q, %v", got, err)
	}
}

func TestRegistry_UnregisteredBackend(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	_, err := r.CreateClassifier(config.ClassifierConfig{Name: "ghost"})
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Errorf("CreateClassifier = %v, want ErrBackendNotRegistered", err)
	}
}

func TestRegistry_OverwriteAndNames(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	r.RegisterClassifier("stub", func(config.ClassifierConfig) (reaction.Classifier, error) {
		return &stubClassifier{name: "first"}, nil
	})
	r.RegisterClassifier("stub", func(config.ClassifierConfig) (reaction.Classifier, error) {
		return &stubClassifier{name: "second"}, nil
	})
	r.RegisterClassifier("other", func(config.ClassifierConfig) (reaction.Classifier, error) {
		return &stubClassifier{name: "other"}, nil
	})

	c, err := r.CreateClassifier(config.ClassifierConfig{Name: "stub"})
	if err != nil {
		t.Fatalf("CreateClassifier: %v", err)
	}
	if got, _ := c.Classify(context.Background(), "", reaction.Context{}); got != "second" {
		t.Errorf("Classify = %q, want the later registration to win", got)
	}

	names := r.Names()
	slices.Sort(names)
	if want := []string{"other", "stub"}; !slices.Equal(names, want) {
		t.Errorf("Names = %v, want %v", names, want)
	}
}
