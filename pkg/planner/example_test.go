// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package planner_test

import (
	"context"
	"fmt"
	"strings"

	"github.com/jllopis/skillchain/pkg/core"
	"github.com/jllopis/skillchain/pkg/planner"
)

func ExampleExecutor() {
	plan := &planner.Plan{
		ID: "greeting",
		Steps: []planner.Step{
			{ID: "greet", Capability: "greet", Inputs: map[string]planner.Binding{
				"name": planner.Ref(planner.InputStep, "name"),
			}},
			{ID: "shout", Capability: "upper", Inputs: map[string]planner.Binding{
				"text": planner.Ref("greet", "text"),
			}},
		},
	}

	handlers := core.Handlers{
		"greet": func(_ context.Context, in core.Values) (core.Values, error) {
			name, _ := in["name"].AsString()
			return core.Values{"text": core.String("hello " + name)}, nil
		},
		"upper": func(_ context.Context, in core.Values) (core.Values, error) {
			text, _ := in["text"].AsString()
			return core.Values{"text": core.String(strings.ToUpper(text))}, nil
		},
	}

	executor := planner.NewExecutor(core.NewDirectRunner(handlers), core.PolicyAbort)
	res := executor.Execute(context.Background(), plan, core.Values{"name": core.String("ada")})
	text, _ := res.Outputs["shout.text"].AsString()
	fmt.Println(res.Success, text)
	// Output: true HELLO ADA
}
