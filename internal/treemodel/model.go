// Package treemodel loads an externally trained gradient-boosted tree
// ensemble and evaluates it against a feature vector. Only binary:logistic
// models are supported; the model is immutable after load and safe to share
// across requests.
package treemodel

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"churnwatch/internal/features"
)

var (
	ErrMalformed            = errors.New("treemodel: malformed model document")
	ErrNoTrees              = errors.New("treemodel: no tree list in document")
	ErrUnsupportedObjective = errors.New("treemodel: unsupported objective")
	ErrMissingFeature       = errors.New("treemodel: required feature missing from vector")
)

const objectiveBinaryLogistic = "binary:logistic"

// syntheticName matches positional feature names like f0, f12.
var syntheticName = regexp.MustCompile(`^f\d+$`)

// Model is the canonical in-memory form of a loaded ensemble. The two
// accepted document layouts are resolved into this once at load time.
type Model struct {
	BaseScore    float64
	Objective    string
	FeatureNames []string
	Trees        []Tree
}

// Tree is an arena of nodes indexed by node id, traversed iteratively.
type Tree struct {
	Root  int
	Nodes map[int]Node
}

// Node is either a leaf carrying a value or a split.
type Node struct {
	ID          int
	IsLeaf      bool
	Value       float64
	Feature     string
	Threshold   float64
	Yes         int
	No          int
	Missing     int
	HasYes      bool
	HasNo       bool
	HasMissing  bool
	DefaultLeft *bool
	Children    []int
}

// flexFloat tolerates XGBoost dumps storing numbers as JSON strings.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = flexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

type rawNode struct {
	NodeID         int       `json:"nodeid"`
	Leaf           *float64  `json:"leaf"`
	Split          string    `json:"split"`
	SplitCondition flexFloat `json:"split_condition"`
	Yes            *int      `json:"yes"`
	No             *int      `json:"no"`
	Missing        *int      `json:"missing"`
	DefaultLeft    *bool     `json:"default_left"`
	Children       []rawNode `json:"children"`
}

type rawObjective struct {
	Name string `json:"name"`
}

type rawModelParam struct {
	BaseScore *flexFloat `json:"base_score"`
}

type rawDocument struct {
	Trees        []rawNode      `json:"trees"`
	Objective    *rawObjective  `json:"objective"`
	LearnerModel *rawModelParam `json:"learner_model_param"`
	Learner      *struct {
		Objective       *rawObjective  `json:"objective"`
		LearnerModel    *rawModelParam `json:"learner_model_param"`
		FeatureNames    []string       `json:"feature_names"`
		GradientBooster *struct {
			Model *struct {
				Trees []rawNode `json:"trees"`
			} `json:"model"`
		} `json:"gradient_booster"`
	} `json:"learner"`
}

// Load parses a model document in either the flat or the nested
// (learner → gradient_booster → model → trees) layout. It fails with a
// distinguishable error on unreadable documents, absent tree lists, or
// objectives other than binary:logistic.
func Load(doc []byte) (*Model, error) {
	var raw rawDocument
	if err := json.Unmarshal(doc, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	m := &Model{BaseScore: 0.5, Objective: objectiveBinaryLogistic}

	var trees []rawNode
	switch {
	case len(raw.Trees) > 0:
		trees = raw.Trees
		if raw.Objective != nil {
			m.Objective = raw.Objective.Name
		}
		if raw.LearnerModel != nil && raw.LearnerModel.BaseScore != nil {
			m.BaseScore = float64(*raw.LearnerModel.BaseScore)
		}
	case raw.Learner != nil && raw.Learner.GradientBooster != nil &&
		raw.Learner.GradientBooster.Model != nil && len(raw.Learner.GradientBooster.Model.Trees) > 0:
		trees = raw.Learner.GradientBooster.Model.Trees
		if raw.Learner.Objective != nil {
			m.Objective = raw.Learner.Objective.Name
		}
		if raw.Learner.LearnerModel != nil && raw.Learner.LearnerModel.BaseScore != nil {
			m.BaseScore = float64(*raw.Learner.LearnerModel.BaseScore)
		}
		m.FeatureNames = raw.Learner.FeatureNames
	default:
		return nil, ErrNoTrees
	}

	if m.Objective != objectiveBinaryLogistic {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedObjective, m.Objective)
	}

	m.Trees = make([]Tree, 0, len(trees))
	for _, root := range trees {
		t := Tree{Root: root.NodeID, Nodes: make(map[int]Node)}
		indexNodes(&t, root)
		m.Trees = append(m.Trees, t)
	}
	return m, nil
}

func indexNodes(t *Tree, rn rawNode) {
	n := Node{ID: rn.NodeID}
	if rn.Leaf != nil && rn.Split == "" {
		n.IsLeaf = true
		n.Value = *rn.Leaf
	} else {
		n.Feature = rn.Split
		n.Threshold = float64(rn.SplitCondition)
		if rn.Yes != nil {
			n.Yes, n.HasYes = *rn.Yes, true
		}
		if rn.No != nil {
			n.No, n.HasNo = *rn.No, true
		}
		if rn.Missing != nil {
			n.Missing, n.HasMissing = *rn.Missing, true
		}
		n.DefaultLeft = rn.DefaultLeft
	}
	for _, child := range rn.Children {
		n.Children = append(n.Children, child.NodeID)
	}
	t.Nodes[n.ID] = n
	for _, child := range rn.Children {
		indexNodes(t, child)
	}
}

// ValidateFeatures checks that every named model feature is present in the
// vector. Synthetic f<N> names resolve positionally and are skipped.
func (m *Model) ValidateFeatures(vec features.Vector) error {
	for _, name := range m.FeatureNames {
		if syntheticName.MatchString(name) {
			continue
		}
		if _, ok := vec.Get(name); !ok {
			return fmt.Errorf("%w: %s", ErrMissingFeature, name)
		}
	}
	return nil
}
