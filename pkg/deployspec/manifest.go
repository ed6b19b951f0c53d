package deployspec

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/deploytrigger/pkg/types"
)

// Manifest is the YAML shape a deployment pipeline is authored in.
type Manifest struct {
	HasTests bool           `yaml:"hasTests"`
	Steps    []ManifestStep `yaml:"steps"`
	Blocks   []ManifestBlock `yaml:"blocks,omitempty"`
}

// ManifestStep is one node of the authored pipeline tree. Exactly one of
// Delay, Zone, or Parallel should be set; an empty node with Test: true
// describes a standalone test gate (rare — tests normally run implicitly
// ahead of the first zone).
type ManifestStep struct {
	Test     bool            `yaml:"test,omitempty"`
	Delay    string          `yaml:"delay,omitempty"`
	Zone     *ManifestZone   `yaml:"zone,omitempty"`
	Parallel []ManifestStep  `yaml:"parallel,omitempty"`
}

type ManifestZone struct {
	Env    string `yaml:"env"`
	Region string `yaml:"region,omitempty"`
}

type ManifestBlock struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
	Kind  string `yaml:"kind,omitempty"`
}

// Load reads and parses a deployment spec manifest from disk.
func Load(path string) (types.DeploymentSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.DeploymentSpec{}, fmt.Errorf("read deployment spec: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML manifest bytes into a DeploymentSpec tree.
func Parse(data []byte) (types.DeploymentSpec, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return types.DeploymentSpec{}, fmt.Errorf("parse deployment spec: %w", err)
	}

	steps := make([]types.Step, 0, len(m.Steps))
	for _, s := range m.Steps {
		step, err := toStep(s)
		if err != nil {
			return types.DeploymentSpec{}, err
		}
		steps = append(steps, step)
	}

	blocks := make([]types.BlockWindow, 0, len(m.Blocks))
	for _, b := range m.Blocks {
		block, err := toBlock(b)
		if err != nil {
			return types.DeploymentSpec{}, err
		}
		blocks = append(blocks, block)
	}

	return types.DeploymentSpec{HasTests: m.HasTests, Steps: steps, Blocks: blocks}, nil
}

func toStep(s ManifestStep) (types.Step, error) {
	switch {
	case s.Test:
		return types.Step{Kind: types.StepTest}, nil
	case s.Delay != "":
		d, err := time.ParseDuration(s.Delay)
		if err != nil {
			return types.Step{}, fmt.Errorf("parse delay %q: %w", s.Delay, err)
		}
		return types.Step{Kind: types.StepDelay, Delay: d}, nil
	case s.Zone != nil:
		return types.Step{Kind: types.StepZone, Zone: types.Zone{Env: s.Zone.Env, Region: s.Zone.Region}}, nil
	case len(s.Parallel) > 0:
		members := make([]types.Step, 0, len(s.Parallel))
		for _, p := range s.Parallel {
			member, err := toStep(p)
			if err != nil {
				return types.Step{}, err
			}
			if member.Kind != types.StepZone {
				return types.Step{}, fmt.Errorf("parallel group members must be zones, got %s", member.Kind)
			}
			members = append(members, member)
		}
		return types.Step{Kind: types.StepParallel, Parallel: members}, nil
	default:
		return types.Step{}, fmt.Errorf("manifest step has no test, delay, zone, or parallel set")
	}
}

func toBlock(b ManifestBlock) (types.BlockWindow, error) {
	start, err := time.Parse(time.RFC3339, b.Start)
	if err != nil {
		return types.BlockWindow{}, fmt.Errorf("parse block start %q: %w", b.Start, err)
	}
	end, err := time.Parse(time.RFC3339, b.End)
	if err != nil {
		return types.BlockWindow{}, fmt.Errorf("parse block end %q: %w", b.End, err)
	}
	return types.BlockWindow{Start: start, End: end, Kind: b.Kind}, nil
}
