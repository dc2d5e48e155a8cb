/*
Package forge is an agent orchestration engine for construction bid pipelines.

A run takes the documents of one project through six phases: intake, parallel
enrichment, validation gates, a go/no-go decision, grounded bid generation and
multi-backend review. Every agent call goes through one contract that compiles a
bounded prompt from layered project memory, and every output can be scored,
grounded against the project's documents and refined by a critic loop before the
coordinator accepts it.

# Usage

Load a configuration and build an Engine. The Engine owns the stores selected by
the configuration and must be closed.

	package main

	import (
		"context"
		"log"

		"github.com/aretw0/forge"
		"github.com/aretw0/forge/internal/config"
		"github.com/aretw0/forge/pkg/workflow"
	)

	func main() {
		cfg, err := config.Load("")
		if err != nil {
			log.Fatal(err)
		}
		eng, err := forge.New(context.Background(), cfg)
		if err != nil {
			log.Fatal(err)
		}
		defer eng.Close()

		res, err := eng.RunWorkflow(context.Background(), "project-42", "estimator",
			map[string]any{"rfq": "Steel frame for a warehouse", "documents": []any{"rfq.pdf"}},
			workflow.RunOptions{})
		if err != nil {
			log.Fatal(err)
		}
		log.Println(res.Status, res.Reason)
	}

Progress of a run is published per project on Engine.Subscribe and as Prometheus
metrics on Engine.MetricsHandler.
*/
package forge
