package graph

import (
	"sort"
	"strings"

	"github.com/GrigoryEvko/rtlink/internal/scan"
)

// Kind is the role a record plays in the RT hierarchy.
type Kind int

const (
	KindOther Kind = iota
	KindImage
	KindStructureSet
	KindPlan
	KindDose
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "Image"
	case KindStructureSet:
		return "StructureSet"
	case KindPlan:
		return "Plan"
	case KindDose:
		return "Dose"
	}
	return "Other"
}

// MarshalText keeps kinds readable in exports.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Classifier maps modality strings onto kinds.
type Classifier struct {
	kinds map[string]Kind
}

// NewClassifier builds a classifier from modality lists. A modality listed
// twice takes the later kind.
func NewClassifier(image, structure, plan, dose []string) Classifier {
	c := Classifier{kinds: make(map[string]Kind)}
	for _, group := range []struct {
		kind       Kind
		modalities []string
	}{
		{KindImage, image},
		{KindStructureSet, structure},
		{KindPlan, plan},
		{KindDose, dose},
	} {
		for _, m := range group.modalities {
			c.kinds[strings.ToUpper(strings.TrimSpace(m))] = group.kind
		}
	}
	return c
}

// DefaultClassifier knows the common image modalities and the RT objects.
func DefaultClassifier() Classifier {
	return NewClassifier(
		scan.DefaultImageModalities,
		[]string{"RTSTRUCT"},
		[]string{"RTPLAN", "RTIONPLAN"},
		[]string{"RTDOSE"},
	)
}

// Kind classifies a modality. Unknown modalities are KindOther.
func (c Classifier) Kind(modality string) Kind {
	if c.kinds == nil {
		return DefaultClassifier().Kind(modality)
	}
	return c.kinds[strings.ToUpper(modality)]
}

// Modalities lists the modalities mapped to kind, sorted.
func (c Classifier) Modalities(kind Kind) []string {
	var out []string
	for m, k := range c.kinds {
		if k == kind {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}
