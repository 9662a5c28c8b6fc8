package augment

import (
	"strconv"
	"strings"

	"github.com/go-sif/cassdl"
	"github.com/go-sif/cassdl/errors"
)

// Parse builds an augmentation from a textual description, as used in configuration files.
// Steps are separated by "+", and each step is a name followed by colon-separated arguments:
//
//	mirror:0.5+rotate:-10:10+gamma:0.8:1.2
//
// Known steps are identity, mirror:p, flip:p, rotate:min:max, gamma:min:max and blur:min:max.
// An empty description is the identity.
func Parse(desc string) (cassdl.Augmentation, error) {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return Identity, nil
	}
	var steps []cassdl.Augmentation
	for _, step := range strings.Split(desc, "+") {
		parts := strings.Split(strings.TrimSpace(step), ":")
		args := make([]float64, len(parts)-1)
		for i, p := range parts[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return nil, errors.InvalidConfigf("augmentation %q has a non-numeric argument %q", step, p)
			}
			args[i] = v
		}
		aug, err := build(strings.ToLower(parts[0]), args)
		if err != nil {
			return nil, err
		}
		steps = append(steps, aug)
	}
	if len(steps) == 1 {
		return steps[0], nil
	}
	return Sequential(steps...), nil
}

func build(name string, args []float64) (cassdl.Augmentation, error) {
	want := map[string]int{"identity": 0, "mirror": 1, "flip": 1, "rotate": 2, "gamma": 2, "blur": 2}
	n, ok := want[name]
	if !ok {
		return nil, errors.InvalidConfigf("unknown augmentation %q", name)
	}
	if len(args) != n {
		return nil, errors.InvalidConfigf("augmentation %q takes %d arguments, got %d", name, n, len(args))
	}
	switch name {
	case "mirror":
		return Mirror(args[0]), nil
	case "flip":
		return Flip(args[0]), nil
	case "rotate":
		return Rotate(args[0], args[1]), nil
	case "gamma":
		return GammaContrast(args[0], args[1]), nil
	case "blur":
		return GaussianBlur(args[0], args[1]), nil
	default:
		return Identity, nil
	}
}
