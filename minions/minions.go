package minions

import (
	"github.com/maastricht-university/pase-pipeline/frontend"
	"github.com/maastricht-university/pase-pipeline/layers"
	"github.com/maastricht-university/pase-pipeline/tensor"
)

// Kind is the forward contract of a worker.
type Kind int

const (
	// KindRegression consumes one view and returns a prediction; its label
	// comes from the input batch.
	KindRegression Kind = iota
	// KindClassification consumes the full representation and returns a
	// prediction with the label it was trained against.
	KindClassification
	// KindSelfLabeling consumes one view and derives its own label.
	KindSelfLabeling
)

func (k Kind) String() string {
	switch k {
	case KindRegression:
		return "regression"
	case KindClassification:
		return "classification"
	case KindSelfLabeling:
		return "self-labeling"
	}
	return "unknown"
}

// Group is the group a worker kind belongs to.
func (k Kind) Group() Group {
	if k == KindRegression {
		return GroupRegression
	}
	return GroupClassification
}

// Worker is the common part of every worker. Concrete workers also
// implement exactly one of Regressor, Classifier or SelfLabeler, matching
// Kind.
type Worker interface {
	Name() string
	Kind() Kind
	Modules() map[string]*layers.MLP
}

type Regressor interface {
	Worker
	Forward(view *tensor.Tensor) (*tensor.Tensor, error)
}

type Classifier interface {
	Worker
	Forward(h frontend.Representation) (pred, label *tensor.Tensor, err error)
}

type SelfLabeler interface {
	Worker
	Forward(view *tensor.Tensor) (pred, label *tensor.Tensor, err error)
}

// Fits reports whether w implements the call shape its Kind promises.
func Fits(w Worker) bool {
	switch w.Kind() {
	case KindRegression:
		_, ok := w.(Regressor)
		return ok
	case KindClassification:
		_, ok := w.(Classifier)
		return ok
	case KindSelfLabeling:
		_, ok := w.(SelfLabeler)
		return ok
	}
	return false
}
