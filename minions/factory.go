package minions

import (
	"errors"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/maastricht-university/pase-pipeline/config"
)

var (
	// ErrUnroutable is returned for a descriptor whose name is in neither
	// routing list.
	ErrUnroutable = errors.New("worker name matches neither the classification nor the regression list")
	// ErrUnknownWorker is returned for a classification name with no
	// registered implementation.
	ErrUnknownWorker = errors.New("no worker implementation registered")
)

var log = logrus.WithField("component", "minions")

type Group int

const (
	GroupNone Group = iota
	GroupRegression
	GroupClassification
)

func (g Group) String() string {
	switch g {
	case GroupRegression:
		return "regression"
	case GroupClassification:
		return "classification"
	}
	return "none"
}

// Routing holds the two disjoint name lists deciding each worker's group.
type Routing struct {
	Classification []string
	Regression     []string
}

func DefaultRouting() Routing {
	return Routing{
		Classification: []string{"mi", "cmi", "spc"},
		Regression:     []string{"chunk", "lps", "mfcc", "prosody"},
	}
}

// RoutingFrom takes the lists from the model config, falling back to the
// defaults for an empty list.
func RoutingFrom(m config.Model) Routing {
	r := DefaultRouting()
	if len(m.ClsList) > 0 {
		r.Classification = m.ClsList
	}
	if len(m.RegrList) > 0 {
		r.Regression = m.RegrList
	}
	return r
}

// Validate rejects a name listed in both groups.
func (r Routing) Validate() error {
	for _, n := range r.Classification {
		if slices.Contains(r.Regression, n) {
			return fmt.Errorf("worker %q is listed as both classification and regression", n)
		}
	}
	return nil
}

func (r Routing) Group(name string) Group {
	switch {
	case slices.Contains(r.Classification, name):
		return GroupClassification
	case slices.Contains(r.Regression, name):
		return GroupRegression
	}
	return GroupNone
}

// Constructor builds a worker from its descriptor and the width of the
// representation it will consume.
type Constructor func(desc config.Minion, inputWidth int) (Worker, error)

// Factory turns descriptors into workers.
type Factory struct {
	routing      Routing
	constructors map[string]Constructor
}

// NewFactory returns a factory with the built-in workers registered.
// Regression names without a registered constructor get the generic
// frame-level regression head.
func NewFactory(r Routing) *Factory {
	return &Factory{
		routing: r,
		constructors: map[string]Constructor{
			"mi":  NewMI,
			"cmi": NewCMI,
			"spc": NewSPC,
		},
	}
}

// Register installs or replaces the constructor for name.
func (f *Factory) Register(name string, c Constructor) {
	f.constructors[name] = c
}

func (f *Factory) Routing() Routing { return f.routing }

// Make builds the worker for desc. desc is not modified; inputWidth is
// passed to the constructor explicitly.
func (f *Factory) Make(desc config.Minion, inputWidth int) (Worker, Group, error) {
	group := f.routing.Group(desc.Name)
	if group == GroupNone {
		return nil, GroupNone, fmt.Errorf("%q: %w", desc.Name, ErrUnroutable)
	}

	ctor, ok := f.constructors[desc.Name]
	if !ok {
		if group == GroupClassification {
			return nil, group, fmt.Errorf("%q: %w", desc.Name, ErrUnknownWorker)
		}
		ctor = NewRegression
	}

	w, err := ctor(desc, inputWidth)
	if err != nil {
		return nil, group, fmt.Errorf("build worker %q: %w", desc.Name, err)
	}
	log.WithFields(logrus.Fields{"worker": desc.Name, "group": group, "kind": w.Kind(), "input_width": inputWidth}).Debug("worker built")
	return w, group, nil
}
