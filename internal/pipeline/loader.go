// Package pipeline loads and merges per-symbol YAML pipeline configs into
// DAG node definitions. Indicators may be declared redundantly across files
// as long as every duplicate is structurally identical; strategies must be
// unique by id.
package pipeline

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sort"

	"gopkg.in/yaml.v3"

	"tradeflow/internal/dag"
	"tradeflow/internal/model"
)

type inputSpec struct {
	Type   string `yaml:"type"`
	Source string `yaml:"source"`
	Field  string `yaml:"field"`
}

type indicatorSpec struct {
	ID      string         `yaml:"id"`
	Type    string         `yaml:"type"`
	Params  map[string]any `yaml:"params"`
	Inputs  []inputSpec    `yaml:"inputs"`
	Outputs []string       `yaml:"outputs"`
}

type strategySpec struct {
	ID        string         `yaml:"id"`
	Type      string         `yaml:"type"`
	Params    map[string]any `yaml:"params"`
	DependsOn []string       `yaml:"depends_on"`
}

type fileConfig struct {
	Symbol     string          `yaml:"symbol"`
	Indicators []indicatorSpec `yaml:"indicators"`
	Strategies []strategySpec  `yaml:"strategies"`
}

// Load reads all YAML files under <configRoot>/pipelines/<symbol>/, merges
// them, and returns the node definitions for the symbol's pipeline in
// declaration order (indicators first, then strategies).
func Load(configRoot, symbol string) ([]dag.NodeDef, error) {
	log := slog.With(slog.String("component", "pipeline"), slog.String("symbol", symbol))

	dir := filepath.Join(configRoot, "pipelines", symbol)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("no pipeline directory for symbol %s: %s", symbol, dir)
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no YAML files found in %s", dir)
	}
	sort.Strings(files)

	indicators := make(map[string]indicatorSpec)
	indicatorSource := make(map[string]string) // id -> file that first declared it
	strategies := make(map[string]strategySpec)
	strategySource := make(map[string]string)
	var indicatorOrder, strategyOrder []string

	for _, file := range files {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		var cfg fileConfig
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}

		if cfg.Symbol != symbol {
			log.Warn("symbol mismatch in pipeline file",
				slog.String("file", filepath.Base(file)),
				slog.String("declared", cfg.Symbol))
		}

		for _, ind := range cfg.Indicators {
			if ind.ID == "" {
				return nil, fmt.Errorf("%s: indicator with empty id", file)
			}
			existing, dup := indicators[ind.ID]
			if !dup {
				indicators[ind.ID] = ind
				indicatorSource[ind.ID] = file
				indicatorOrder = append(indicatorOrder, ind.ID)
				continue
			}
			if diff := structuralDiff(existing, ind); diff != "" {
				return nil, fmt.Errorf(
					"conflicting definitions for indicator %q: %s differs between %s and %s",
					ind.ID, diff, indicatorSource[ind.ID], file)
			}
			// Identical redeclaration, silently de-duplicated.
		}

		for _, strat := range cfg.Strategies {
			if strat.ID == "" {
				return nil, fmt.Errorf("%s: strategy with empty id", file)
			}
			if _, dup := strategies[strat.ID]; dup {
				return nil, fmt.Errorf("duplicate strategy id %q in %s (first declared in %s)",
					strat.ID, file, strategySource[strat.ID])
			}
			strategies[strat.ID] = strat
			strategySource[strat.ID] = file
			strategyOrder = append(strategyOrder, strat.ID)
		}
	}

	defs := make([]dag.NodeDef, 0, len(indicatorOrder)+len(strategyOrder))

	for _, id := range indicatorOrder {
		ind := indicators[id]
		inputs, err := convertInputs(ind.Inputs)
		if err != nil {
			return nil, fmt.Errorf("indicator %q: %w", id, err)
		}
		outputs := ind.Outputs
		if len(outputs) == 0 {
			outputs = []string{"value"}
		}
		defs = append(defs, dag.NodeDef{
			ID:      id,
			Type:    ind.Type,
			Role:    dag.RoleIndicator,
			Inputs:  inputs,
			Params:  ind.Params,
			Outputs: outputs,
		})
	}

	for _, id := range strategyOrder {
		strat := strategies[id]
		inputs := make([]dag.InputRef, 0, len(strat.DependsOn))
		for _, dep := range strat.DependsOn {
			inputs = append(inputs, dag.InputRef{Kind: dag.InputIndicator, Source: dep})
		}
		defs = append(defs, dag.NodeDef{
			ID:      id,
			Type:    strat.Type,
			Role:    dag.RoleStrategy,
			Inputs:  inputs,
			Params:  strat.Params,
			Outputs: []string{"signal"},
		})
	}

	log.Info("pipeline loaded",
		slog.Int("files", len(files)),
		slog.Int("indicators", len(indicatorOrder)),
		slog.Int("strategies", len(strategyOrder)))
	return defs, nil
}

// structuralDiff reports the first aspect in which two declarations of the
// same indicator id differ, or "" when they are structurally identical.
func structuralDiff(a, b indicatorSpec) string {
	if a.Type != b.Type {
		return "type"
	}
	if !reflect.DeepEqual(a.Params, b.Params) {
		return "params"
	}
	if !reflect.DeepEqual(a.Inputs, b.Inputs) {
		return "inputs"
	}
	if !reflect.DeepEqual(a.Outputs, b.Outputs) {
		return "outputs"
	}
	return ""
}

// convertInputs validates raw input specs and converts them to InputRefs.
func convertInputs(specs []inputSpec) ([]dag.InputRef, error) {
	inputs := make([]dag.InputRef, 0, len(specs))
	for _, spec := range specs {
		kind := dag.InputKind(spec.Type)
		switch kind {
		case dag.InputTick, dag.InputCandle, dag.InputIndicator:
		default:
			return nil, fmt.Errorf("invalid input type %q", spec.Type)
		}
		if spec.Source == "" && kind != dag.InputTick {
			return nil, fmt.Errorf("input of type %s missing source", kind)
		}
		if kind == dag.InputCandle && !model.ValidTimeframe(spec.Source) {
			return nil, fmt.Errorf("candle input references unknown timeframe %q", spec.Source)
		}
		inputs = append(inputs, dag.InputRef{
			Kind:   kind,
			Source: spec.Source,
			Field:  spec.Field,
		})
	}
	return inputs, nil
}
